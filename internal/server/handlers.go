package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/cache"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/store"
)

//go:embed panel.html
var panelHTML []byte

// MaxTextLength bounds the text accepted by /api/tts.
const MaxTextLength = 5000

var errNoEngine = errors.New("no engine configured")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameHost,
}

func (s *Service) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/tts", s.handleTTS)
	api.HandleFunc("GET /api/engines", s.handleEngines)
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("GET /api/logs", s.handleLogs)
	api.HandleFunc("GET /api/qr", s.handleQR)
	api.HandleFunc("POST /api/shutdown", s.handleShutdown)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handlePanel)
	mux.Handle("/api/", s.withAuth(api))

	return s.withRequestLog(withRecover(mux))
}

func handlePanel(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(panelHTML)
}

func (s *Service) handleTTS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("text"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len([]rune(text)) > MaxTextLength {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("text exceeds %d characters", MaxTextLength))
		return
	}

	cfg, limiter := s.snapshot()
	e, err := s.resolveEngine(r.Context(), q.Get("engine"), cfg.DefaultEngine)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, errNoEngine) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	e = e.WithDefaults()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"rate", &e.Rate}, {"volume", &e.Volume}, {"pitch", &e.Pitch}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, p.name+" must be an integer between 0 and 100")
			return
		}
		*p.dst = n
	}

	key := cache.Key(e.Name, text, e.Rate, e.Volume, e.Pitch)
	if s.opts.Cache != nil {
		if entry, ok := s.opts.Cache.Get(key); ok {
			writeAudio(w, entry.Data, entry.ContentType, "HIT")
			return
		}
	}

	if !limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	s.upstream.Add(1)
	a, err := s.opts.Client.Synthesize(r.Context(), e, text)
	if err != nil {
		var se *httptts.StatusError
		switch {
		case errors.As(err, &se):
			log.Warn("Engine returned an error", "engine", e.Name, "status", se.Code)
			writeError(w, http.StatusBadGateway, se.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			log.Warn("Synthesis failed", "engine", e.Name, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	ct := audioContentType(a)
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Put(key, cache.Entry{Data: a.Data, ContentType: ct}); err != nil {
			log.Debug("Audio not cached", "engine", e.Name, "error", err)
		}
	}
	writeAudio(w, a.Data, ct, "MISS")
}

func (s *Service) resolveEngine(ctx context.Context, name, fallback string) (httptts.Engine, error) {
	if name == "" {
		name = fallback
	}
	if name != "" {
		return s.opts.Engines.Find(ctx, name)
	}
	engines, err := s.opts.Engines.List(ctx)
	if err != nil {
		return httptts.Engine{}, err
	}
	if len(engines) == 0 {
		return httptts.Engine{}, errNoEngine
	}
	return engines[0], nil
}

// audioContentType prefers what the engine said, then what the bytes look
// like.
func audioContentType(a httptts.Audio) string {
	if ct := a.ContentType; ct != "" && !strings.HasPrefix(ct, "application/octet-stream") {
		return ct
	}
	if formats := audio.Probe(a.Data); len(formats) > 0 {
		if formats[0].MIME == audio.MIMERaw {
			return "audio/wav"
		}
		return formats[0].MIME
	}
	return "application/octet-stream"
}

func writeAudio(w http.ResponseWriter, data []byte, contentType, cacheState string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Cache", cacheState)
	_, _ = w.Write(data)
}

type engineInfo struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	ContentType string `json:"content_type,omitempty"`
	Rate        int    `json:"rate"`
	Volume      int    `json:"volume"`
	Pitch       int    `json:"pitch"`
	Default     bool   `json:"default,omitempty"`
}

// handleEngines lists engines without URLs or headers, which may carry keys.
func (s *Service) handleEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := s.opts.Engines.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg, _ := s.snapshot()
	out := make([]engineInfo, 0, len(engines))
	for _, e := range engines {
		e = e.WithDefaults()
		out = append(out, engineInfo{
			Name:        e.Name,
			Method:      e.Method,
			ContentType: e.ContentType,
			Rate:        e.Rate,
			Volume:      e.Volume,
			Pitch:       e.Pitch,
			Default:     e.Name == cfg.DefaultEngine,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Service) handleQR(w http.ResponseWriter, _ *http.Request) {
	url := s.LANURL()
	if url == "" {
		url = s.URL()
	}
	png, err := QRCode(url, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Service) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Error("Shutdown request failed", "error", err)
		}
	}()
}

// handleLogs streams the log ring: the buffered lines first, then new lines
// as they are written.
func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeError(w, http.StatusNotFound, "log stream is not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.logClients.Add(1)
	defer s.logClients.Add(-1)

	lines, cancel := s.opts.Logs.Subscribe(256)
	defer cancel()

	// The reader only notices when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	}

	for _, line := range s.opts.Logs.Lines() {
		if err := send(line); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := send(line); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "service stopping"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// sameHost accepts requests from the panel itself and from non-browser
// clients, which send no Origin.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, host, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
