package ui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"

	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/desktop"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/logring"
	"github.com/jing332/tts-server-go/internal/preview"
	"github.com/jing332/tts-server-go/internal/server"
	"github.com/jing332/tts-server-go/internal/updates"
)

type fakeService struct {
	running bool
	err     error
	done    chan struct{}
}

func (f *fakeService) Toggle(context.Context) (bool, error) {
	if f.err != nil {
		return f.running, f.err
	}
	f.running = !f.running
	if f.running {
		f.done = make(chan struct{})
	} else if f.done != nil {
		close(f.done)
	}
	return f.running, nil
}

func (f *fakeService) IsRunning() bool { return f.running }
func (f *fakeService) URL() string     { return "http://localhost:1233" }

func (f *fakeService) LANURL() string {
	if !f.running {
		return ""
	}
	return "http://192.168.1.20:1233"
}

func (f *fakeService) Status() server.Status {
	return server.Status{Running: f.running, Port: 1233, URL: f.URL(), LANURL: f.LANURL()}
}

func (f *fakeService) Done() <-chan struct{} {
	if f.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return f.done
}

type fakeEngines []httptts.Engine

func (f fakeEngines) List(context.Context) ([]httptts.Engine, error) { return f, nil }

type fixture struct {
	svc     *fakeService
	store   *config.Store
	logs    *logring.Ring
	posted  chan func()
	opened  []string
	copied  []string
	copyErr error
}

func newFixture(t *testing.T, engines ...httptts.Engine) (*fixture, model) {
	t.Helper()
	f := &fixture{
		svc:    &fakeService{},
		store:  config.NewStore(viper.New(), ""),
		logs:   logring.New(100),
		posted: make(chan func(), 4),
	}
	f.logs.Append("booted")

	deps := Deps{
		Config:  f.store,
		Service: f.svc,
		Engines: fakeEngines(engines),
		Client:  httptts.NewClient(httptts.ClientOptions{}),
		Logs:    f.logs,
		NewPlayer: func() (audio.AudioPlayer, error) {
			return audio.NewMockPlayer(0, audio.MockCallbacks{}), nil
		},
	}
	cfg := Config{GlamourStyle: "dark", LogLines: 50, PreviewText: "hello", StatusInterval: time.Second}
	m := newModel(cfg, deps, preview.DispatcherFunc(func(fn func()) { f.posted <- fn }))
	m.openURL = func(u string) error {
		f.opened = append(f.opened, u)
		return nil
	}
	m.copyText = func(s string) error {
		if f.copyErr != nil {
			return f.copyErr
		}
		f.copied = append(f.copied, s)
		return nil
	}
	m.createShortcut = func(s desktop.Shortcut) (string, error) {
		return "/apps/" + s.Name + ".desktop", nil
	}
	t.Cleanup(func() { _ = m.tester.Close() })

	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return f, m
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m model, keys ...tea.KeyMsg) model {
	t.Helper()
	for _, k := range keys {
		m = update(t, m, k)
	}
	return m
}

func wantToast(t *testing.T, m model, want string, isError bool) {
	t.Helper()
	if !strings.Contains(m.toast, want) {
		t.Errorf("toast = %q, want it to contain %q", m.toast, want)
	}
	if m.toastIsError != isError {
		t.Errorf("toast error = %v, want %v", m.toastIsError, isError)
	}
}

func startService(t *testing.T, f *fixture, m model) model {
	t.Helper()
	msg := toggleService(f.svc)()
	return update(t, m, msg)
}

func TestOpenPanelRequiresRunningService(t *testing.T) {
	f, m := newFixture(t)

	m = press(t, m, runes("o"))
	wantToast(t, m, "Please start the service first", true)
	if len(f.opened) != 0 {
		t.Fatalf("opened %v while stopped", f.opened)
	}

	m = startService(t, f, m)
	wantToast(t, m, "Service started on http://localhost:1233", false)

	m = press(t, m, runes("o"))
	if len(f.opened) != 1 || f.opened[0] != "http://localhost:1233" {
		t.Fatalf("opened = %v", f.opened)
	}

	if err := f.store.SetToken("abc"); err != nil {
		t.Fatal(err)
	}
	m.syncConfig()
	_ = press(t, m, runes("o"))
	if got := f.opened[len(f.opened)-1]; got != "http://localhost:1233/?token=abc" {
		t.Errorf("opened %q", got)
	}

	if err := f.store.SetToken("a&b#c+d"); err != nil {
		t.Fatal(err)
	}
	m.syncConfig()
	_ = press(t, m, runes("o"))
	if got := f.opened[len(f.opened)-1]; got != "http://localhost:1233/?token=a%26b%23c%2Bd" {
		t.Errorf("token not escaped: %q", got)
	}
}

func TestServiceToggle(t *testing.T) {
	f, m := newFixture(t)

	m = press(t, m, runes("s"))
	if !m.toggling {
		t.Fatal("expected toggling after s")
	}
	// A second press while toggling is ignored.
	m = press(t, m, runes("s"))

	m = startService(t, f, m)
	if !m.running || m.toggling {
		t.Fatalf("running=%v toggling=%v", m.running, m.toggling)
	}
	if !strings.Contains(m.headerView(), "running") {
		t.Errorf("header = %q", m.headerView())
	}

	m = startService(t, f, m)
	if m.running {
		t.Fatal("expected stopped")
	}
	wantToast(t, m, "Service stopped", false)

	f.svc.err = errors.New("address already in use")
	m = startService(t, f, m)
	wantToast(t, m, "Service error: address already in use", true)
	if m.running {
		t.Error("failed start left the menu running")
	}
}

func TestServiceStoppedElsewhere(t *testing.T) {
	f, m := newFixture(t)
	m = startService(t, f, m)

	f.svc.running = false
	m = update(t, m, serviceStoppedMsg{})
	if m.running {
		t.Fatal("expected stopped")
	}
	wantToast(t, m, "Service stopped", false)
}

func TestPages(t *testing.T) {
	_, m := newFixture(t)

	if m.page != pageLog {
		t.Fatalf("start page = %v", m.page)
	}
	tests := []struct {
		key  tea.KeyMsg
		want page
	}{
		{tea.KeyMsg{Type: tea.KeyTab}, pageWeb},
		{tea.KeyMsg{Type: tea.KeyTab}, pageLog},
		{runes("2"), pageWeb},
		{tea.KeyMsg{Type: tea.KeyEscape}, pageLog},
		{tea.KeyMsg{Type: tea.KeyEscape}, pageLog},
		{runes("2"), pageWeb},
		{runes("1"), pageLog},
	}
	for i, tc := range tests {
		m = press(t, m, tc.key)
		if m.page != tc.want {
			t.Fatalf("step %d (%s): page = %v, want %v", i, tc.key, m.page, tc.want)
		}
	}

	m = press(t, m, runes("2"))
	view := m.View()
	if !strings.Contains(view, "2 Web panel") || !strings.Contains(view, "Press s to start the service") {
		t.Errorf("web page view:\n%s", view)
	}
}

func TestTokenDialog(t *testing.T) {
	f, m := newFixture(t)

	m = press(t, m, runes("t"))
	if m.overlay != overlayToken {
		t.Fatalf("overlay = %v", m.overlay)
	}
	m = press(t, m, runes("secret"), tea.KeyMsg{Type: tea.KeyEnter})
	if m.overlay != overlayNone {
		t.Fatalf("overlay = %v after enter", m.overlay)
	}
	if got := f.store.Token(); got != "secret" {
		t.Fatalf("stored token = %q", got)
	}
	wantToast(t, m, "Token set to secret", false)

	m = press(t, m, runes("t"))
	if got := m.input.Value(); got != "secret" {
		t.Errorf("dialog prefilled with %q", got)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if got := f.store.Token(); got != "" {
		t.Fatalf("token after reset = %q", got)
	}
	wantToast(t, m, "Token reset", false)

	// Escape leaves the token alone.
	m = press(t, m, runes("t"), runes("zzz"), tea.KeyMsg{Type: tea.KeyEscape})
	if got := f.store.Token(); got != "" {
		t.Errorf("token after cancel = %q", got)
	}

	m = startService(t, f, m)
	m = press(t, m, runes("t"), runes("x"), tea.KeyMsg{Type: tea.KeyEnter})
	wantToast(t, m, "restart the service to apply", false)
}

func TestWakeLockToggle(t *testing.T) {
	f, m := newFixture(t)

	m = press(t, m, runes("w"))
	if !f.store.WakeLock() || !m.wakeLock {
		t.Fatal("wake lock not enabled")
	}
	wantToast(t, m, "Wake lock on", false)

	m = press(t, m, runes("w"))
	if f.store.WakeLock() {
		t.Fatal("wake lock not disabled")
	}
	wantToast(t, m, "Wake lock off", false)
}

func TestExemptionUnsupported(t *testing.T) {
	_, m := newFixture(t)

	m = press(t, m, runes("k"))
	wantToast(t, m, "please change power settings manually", true)
}

func TestClearWebData(t *testing.T) {
	_, m := newFixture(t)

	m = press(t, m, runes("x"))
	wantToast(t, m, "Cleared", false)
}

func TestCopyPanelURL(t *testing.T) {
	f, m := newFixture(t)

	m = press(t, m, runes("y"))
	m = startService(t, f, m)
	m = press(t, m, runes("y"))
	want := []string{"http://localhost:1233", "http://192.168.1.20:1233"}
	if strings.Join(f.copied, ",") != strings.Join(want, ",") {
		t.Fatalf("copied = %v, want %v", f.copied, want)
	}

	f.copyErr = desktop.ErrUnsupported
	m = press(t, m, runes("y"))
	wantToast(t, m, "Clipboard not available", true)
}

func TestCreateShortcut(t *testing.T) {
	_, m := newFixture(t)
	m.deps.Shortcut = desktop.Shortcut{Name: "tts-server"}

	m = press(t, m, runes("c"))
	wantToast(t, m, "Shortcut created: /apps/tts-server.desktop", false)
}

func TestToastTimeout(t *testing.T) {
	_, m := newFixture(t)

	m = press(t, m, runes("o"))
	first := m.toastSeq
	m = press(t, m, runes("x"))

	// An older timeout does not clear a newer toast.
	m = update(t, m, toastTimeoutMsg{seq: first})
	wantToast(t, m, "Cleared", false)

	m = update(t, m, toastTimeoutMsg{seq: m.toastSeq})
	if m.toast != "" {
		t.Errorf("toast = %q after timeout", m.toast)
	}
}

func TestLogLines(t *testing.T) {
	_, m := newFixture(t)

	if m.logs.len() != 1 {
		t.Fatalf("backlog = %d lines", m.logs.len())
	}
	m = update(t, m, logLineMsg("second"))
	m = update(t, m, logLineMsg("third"))
	if m.logs.len() != 3 {
		t.Fatalf("lines = %d", m.logs.len())
	}
	if !strings.Contains(m.logs.view(), "third") {
		t.Errorf("log view does not follow new lines:\n%s", m.logs.view())
	}
	if !strings.Contains(m.statusBarView(), "3 lines") {
		t.Errorf("status bar = %q", m.statusBarView())
	}

	for i := 0; i < 60; i++ {
		m = update(t, m, logLineMsg("line"))
	}
	if m.logs.len() != 50 {
		t.Errorf("lines = %d, want capped at 50", m.logs.len())
	}
}

func TestPreviewCallbacks(t *testing.T) {
	_, m := newFixture(t)
	state := m.preview

	state.testing = true
	m = update(t, m, runMsg(func() {
		state.testing = false
		state.result = "local: size: 10"
	}))
	wantToast(t, m, "local: size: 10", false)

	m = update(t, m, runMsg(func() {
		state.failure = preview.EmptyAudio
	}))
	if m.overlay != overlayMessage || m.message.title != "Preview failed" || m.message.body != preview.EmptyAudio {
		t.Fatalf("overlay=%v message=%+v", m.overlay, m.message)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.overlay != overlayNone {
		t.Errorf("overlay = %v after enter", m.overlay)
	}
}

func TestPreviewOverHTTP(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "fail" {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(audio.PCM{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}))
	}))
	defer up.Close()

	engine := httptts.Engine{Name: "local", URL: up.URL + "/tts?text={{urlquery .Text}}"}
	f, m := newFixture(t, engine)

	m = press(t, m, runes("p"))
	if m.overlay != overlayPreview || m.input.Value() != "hello" {
		t.Fatalf("overlay=%v input=%q", m.overlay, m.input.Value())
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.preview.testing {
		t.Fatal("expected testing after enter")
	}

	msg := resolvePreviewEngine(m.deps.Engines, m.engine, "hello")()
	m = update(t, m, msg)
	m = update(t, m, runMsg(wait(t, f.posted)))
	if m.preview.testing {
		t.Error("still testing after the callback")
	}
	wantToast(t, m, "local: size: 364, sample rate: 16000", false)
	if !m.tester.Playing() {
		t.Error("clip is not playing")
	}

	m = press(t, m, runes("P"))
	if m.tester.Playing() {
		t.Error("clip still playing after stop")
	}

	m = update(t, m, previewEngineMsg{engine: engine, text: "fail"})
	m = update(t, m, runMsg(wait(t, f.posted)))
	if m.overlay != overlayMessage {
		t.Fatalf("overlay = %v", m.overlay)
	}
	if !strings.HasPrefix(m.message.body, preview.ServerErrorPrefix) || !strings.Contains(m.message.body, "quota exceeded") {
		t.Errorf("message body = %q", m.message.body)
	}
}

func TestPreviewWithoutEngines(t *testing.T) {
	_, m := newFixture(t)

	msg := resolvePreviewEngine(m.deps.Engines, "", "hello")()
	m.preview.testing = true
	m = update(t, m, msg)
	if m.preview.testing {
		t.Error("still testing")
	}
	wantToast(t, m, "no engines configured", true)
}

func TestDrawer(t *testing.T) {
	f, m := newFixture(t, httptts.Engine{Name: "a"}, httptts.Engine{Name: "b"})

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if m.overlay != overlayDrawer {
		t.Fatalf("overlay = %v", m.overlay)
	}
	if !strings.Contains(m.View(), "TTS Server dev") {
		t.Errorf("drawer header missing:\n%s", m.View())
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if m.overlay != overlayEngines || !m.picker.loading {
		t.Fatalf("overlay=%v loading=%v", m.overlay, m.picker.loading)
	}
	m = update(t, m, cmd())
	if len(m.picker.engines) != 2 {
		t.Fatalf("picker engines = %d", len(m.picker.engines))
	}

	m = press(t, m, runes("j"), tea.KeyMsg{Type: tea.KeyEnter})
	if m.engine != "b" || f.store.DefaultEngine() != "b" {
		t.Fatalf("engine = %q, stored %q", m.engine, f.store.DefaultEngine())
	}
	wantToast(t, m, "Default engine: b", false)

	// Up from the first item wraps to the last.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD}, runes("k"))
	if m.drawer.selected != drawerAbout {
		t.Errorf("selected = %v", m.drawer.selected)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEscape})
	if m.overlay != overlayNone {
		t.Errorf("overlay = %v", m.overlay)
	}
}

func TestFatalErrorView(t *testing.T) {
	_, m := newFixture(t)

	m = update(t, m, errMsg{errors.New("boom")})
	if !strings.Contains(m.View(), "boom") {
		t.Errorf("view = %q", m.View())
	}
	_, cmd := m.Update(runes("a"))
	if cmd == nil {
		t.Fatal("expected quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected a QuitMsg")
	}
}

func wait(t *testing.T, posted <-chan func()) func() {
	t.Helper()
	select {
	case fn := <-posted:
		return fn
	case <-time.After(5 * time.Second):
		t.Fatal("no callback posted")
		return nil
	}
}

func releaseFeed(t *testing.T, status int, body string) updates.Checker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return updates.Checker{URL: srv.URL}
}

const latestRelease = `{"tag_name":"v1.2.0","html_url":"https://example.com/releases/v1.2.0","published_at":"2026-01-02T03:04:05Z"}`

func TestCheckForUpdatesFromDrawer(t *testing.T) {
	f, m := newFixture(t)
	m.cfg.Version = "1.1.0"
	m.deps.Updates = releaseFeed(t, http.StatusOK, latestRelease)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD}, runes("j"), runes("j"), runes("j"))
	if m.drawer.selected != drawerUpdates {
		t.Fatalf("selected = %v", m.drawer.selected)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.checkingUpdate {
		t.Fatal("expected a check in flight")
	}
	wantToast(t, m, "Checking for updates", false)

	m = update(t, m, checkUpdates(m.deps.Updates, m.cfg.Version, false)())
	if m.checkingUpdate {
		t.Error("check still in flight")
	}
	if m.overlay != overlayMessage || m.message.title != "Update available" {
		t.Fatalf("overlay=%v title=%q", m.overlay, m.message.title)
	}
	if !strings.Contains(m.message.body, "v1.2.0") || !strings.Contains(m.message.body, "1.1.0") {
		t.Errorf("body = %q", m.message.body)
	}
	if !strings.Contains(m.View(), "o open in browser") {
		t.Errorf("open hint missing:\n%s", m.View())
	}

	m = press(t, m, runes("o"))
	if m.overlay != overlayNone {
		t.Errorf("overlay = %v", m.overlay)
	}
	if len(f.opened) != 1 || f.opened[0] != "https://example.com/releases/v1.2.0" {
		t.Errorf("opened = %v", f.opened)
	}
}

func TestCheckForUpdatesResults(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		status    int
		body      string
		quiet     bool
		wantToast string
		wantError bool
	}{
		{name: "up to date", version: "1.2.0", status: http.StatusOK, body: latestRelease, wantToast: "latest version (v1.2.0)"},
		{name: "source build", version: "unknown (built from source)", status: http.StatusOK, body: latestRelease, wantToast: "no version to compare"},
		{name: "feed error", version: "1.0.0", status: http.StatusInternalServerError, body: "down", wantToast: "Update check failed", wantError: true},
		{name: "quiet up to date", version: "1.2.0", status: http.StatusOK, body: latestRelease, quiet: true},
		{name: "quiet feed error", version: "1.0.0", status: http.StatusInternalServerError, body: "down", quiet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m := newFixture(t)
			checker := releaseFeed(t, tt.status, tt.body)

			m = update(t, m, checkUpdates(checker, tt.version, tt.quiet)())
			if m.overlay != overlayNone {
				t.Errorf("overlay = %v", m.overlay)
			}
			if tt.wantToast == "" {
				if m.toast != "" {
					t.Errorf("quiet check showed %q", m.toast)
				}
				return
			}
			wantToast(t, m, tt.wantToast, tt.wantError)
		})
	}
}

func TestStartupUpdateCheckReportsNewer(t *testing.T) {
	_, m := newFixture(t)
	checker := releaseFeed(t, http.StatusOK, latestRelease)

	m = update(t, m, checkUpdates(checker, "v1.0.0", true)())
	if m.overlay != overlayMessage || m.message.url == "" {
		t.Fatalf("overlay=%v url=%q", m.overlay, m.message.url)
	}
}

func TestCheckForUpdatesDisabled(t *testing.T) {
	_, m := newFixture(t)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD}, runes("k"), runes("k"), tea.KeyMsg{Type: tea.KeyEnter})
	wantToast(t, m, "Update checks are disabled", true)
}
