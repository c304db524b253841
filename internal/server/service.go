// Package server runs the background TTS service: a local HTTP server with a
// web control panel, a synthesis API backed by the audio cache and a live log
// stream. The service reads its configuration once, when it starts.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/jing332/tts-server-go/internal/cache"
	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/logring"
	"github.com/jing332/tts-server-go/internal/power"
)

// Service errors
var (
	ErrAlreadyRunning = errors.New("service is already running")
	ErrNotRunning     = errors.New("service is not running")
)

const shutdownTimeout = 5 * time.Second

// Engines looks up engine definitions.
type Engines interface {
	List(ctx context.Context) ([]httptts.Engine, error)
	Find(ctx context.Context, query string) (httptts.Engine, error)
}

// Options wires the service to the rest of the application. Only Config,
// Engines and Client are required.
type Options struct {
	Config  *config.Store
	Engines Engines
	Client  *httptts.Client

	// Cache, when set, serves repeated synthesis requests.
	Cache *cache.Manager
	// Logs feeds the /api/logs stream.
	Logs *logring.Ring
	// Inhibitor keeps the machine awake while the service runs with the
	// wake lock enabled.
	Inhibitor *power.Inhibitor

	// Addr overrides the listen address derived from the configured port.
	Addr    string
	Version string
}

// Service is the background TTS service. It can be started and stopped any
// number of times.
type Service struct {
	opts Options

	mu        sync.Mutex
	srv       *http.Server
	port      int
	cfg       config.ServerConfig
	limiter   *rate.Limiter
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	requests   atomic.Int64
	upstream   atomic.Int64
	logClients atomic.Int32
}

// New creates a stopped service.
func New(opts Options) *Service {
	done := make(chan struct{})
	close(done)
	return &Service{opts: opts, done: done}
}

// Start takes a snapshot of the configuration and starts listening. Config
// changes made afterwards apply on the next Start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return ErrAlreadyRunning
	}

	cfg, err := s.opts.Config.Snapshot()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := s.opts.Addr
	if addr == "" {
		addr = ":" + strconv.Itoa(cfg.Port)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s.cfg = cfg
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.limiter = newLimiter(cfg.RequestsPerMinute)
	s.startedAt = time.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	if cfg.WakeLock && s.opts.Inhibitor != nil {
		if err := s.opts.Inhibitor.Acquire(); err != nil {
			log.Warn("Could not acquire wake lock", "error", err)
		}
	}

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Service stopped unexpectedly", "error", err)
		}
	}(s.srv, s.done)

	log.Info("Service started", "url", s.urlLocked(), "auth", cfg.Token != "", "wake_lock", cfg.WakeLock)
	return nil
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

// Stop shuts the server down gracefully and releases the wake lock.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel, done := s.srv, s.cancel, s.done
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return ErrNotRunning
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done

	if s.opts.Inhibitor != nil {
		s.opts.Inhibitor.Release()
	}
	log.Info("Service stopped")
	if err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

// Toggle starts a stopped service and stops a running one. It reports
// whether the service is running afterwards.
func (s *Service) Toggle(ctx context.Context) (bool, error) {
	if s.IsRunning() {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return false, s.Stop(ctx)
	}
	if err := s.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// IsRunning reports whether the service is listening.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Done is closed when the current run ends, whether through Stop or a
// shutdown request. It is already closed while the service is stopped.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Port returns the port the service listens on, or the configured port when
// it is stopped.
func (s *Service) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.port
	}
	return s.opts.Config.Port()
}

// URL returns the local web panel address.
func (s *Service) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.Port())
}

func (s *Service) urlLocked() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

// LANURL returns the panel address reachable from other machines on the
// local network, or "" when it cannot be determined.
func (s *Service) LANURL() string {
	ip := OutboundIP()
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", ip, s.Port())
}

// CacheStatus summarizes the audio cache.
type CacheStatus struct {
	Items   int64   `json:"items"`
	Size    int64   `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Status is reported by /api/status and rendered by the web page.
type Status struct {
	Running    bool         `json:"running"`
	Version    string       `json:"version,omitempty"`
	Port       int          `json:"port"`
	URL        string       `json:"url"`
	LANURL     string       `json:"lan_url,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	Requests   int64        `json:"requests"`
	Upstream   int64        `json:"upstream_requests"`
	LogClients int          `json:"log_clients"`
	Auth       bool         `json:"auth"`
	WakeLock   bool         `json:"wake_lock"`
	WakeHeld   bool         `json:"wake_lock_held"`
	Cache      *CacheStatus `json:"cache,omitempty"`
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	st := Status{
		Version:    s.opts.Version,
		Requests:   s.requests.Load(),
		Upstream:   s.upstream.Load(),
		LogClients: int(s.logClients.Load()),
	}

	s.mu.Lock()
	st.Running = s.srv != nil
	if st.Running {
		st.Port = s.port
		st.StartedAt = s.startedAt
		st.Auth = s.cfg.Token != ""
		st.WakeLock = s.cfg.WakeLock
	} else {
		st.Port = s.opts.Config.Port()
	}
	s.mu.Unlock()

	st.URL = fmt.Sprintf("http://localhost:%d", st.Port)
	if st.Running {
		if ip := OutboundIP(); ip != "" {
			st.LANURL = fmt.Sprintf("http://%s:%d", ip, st.Port)
		}
	}
	if s.opts.Inhibitor != nil {
		st.WakeHeld = s.opts.Inhibitor.Held()
	}
	if s.opts.Cache != nil {
		cs := s.opts.Cache.Stats()
		st.Cache = &CacheStatus{
			Items:   cs.Memory.Items + cs.Disk.Items,
			Size:    cs.Size(),
			HitRate: cs.HitRate(),
		}
	}
	return st
}

// snapshot returns the configuration taken at Start.
func (s *Service) snapshot() (config.ServerConfig, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}
