// Package ui provides the terminal shell of tts-server: a log page and a web
// panel page behind a tab bar, a side drawer, and the menu actions that drive
// the background service.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	te "github.com/muesli/termenv"

	"github.com/jing332/tts-server-go/internal/cache"
	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/desktop"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/logring"
	"github.com/jing332/tts-server-go/internal/power"
	"github.com/jing332/tts-server-go/internal/preview"
	"github.com/jing332/tts-server-go/internal/server"
	"github.com/jing332/tts-server-go/internal/updates"
)

const toastTimeout = 3 * time.Second

// Service is the background service as seen by the shell.
type Service interface {
	Toggle(ctx context.Context) (bool, error)
	IsRunning() bool
	URL() string
	LANURL() string
	Status() server.Status
	Done() <-chan struct{}
}

// EngineLister lists the configured engines.
type EngineLister interface {
	List(ctx context.Context) ([]httptts.Engine, error)
}

// UpdateChecker looks up the latest release.
type UpdateChecker interface {
	Check(ctx context.Context, current string) (updates.Result, error)
}

// Deps are the application services the shell drives. Cache, Inhibitor and
// Updates may be nil.
type Deps struct {
	Config    *config.Store
	Service   Service
	Engines   EngineLister
	Client    *httptts.Client
	Cache     *cache.Manager
	Logs      *logring.Ring
	Inhibitor *power.Inhibitor
	NewPlayer preview.PlayerFactory
	Shortcut  desktop.Shortcut
	Updates   UpdateChecker
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, deps Deps) *tea.Program {
	log.Debug("Starting shell", "config", cfg.ConfigPath, "version", cfg.Version)

	s := &sender{}
	m := newModel(cfg, deps, s)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	p := tea.NewProgram(m, opts...)
	s.p = p
	return p
}

// sender posts preview callbacks into the program's update loop.
type sender struct {
	p *tea.Program
}

func (s *sender) Post(fn func()) {
	if s.p != nil {
		s.p.Send(runMsg(fn))
	}
}

type page int

const (
	pageLog page = iota
	pageWeb
	pageCount
)

func (p page) String() string {
	return [...]string{"Log", "Web panel"}[p]
}

// overlay is whatever sits on top of the current page.
type overlay int

const (
	overlayNone overlay = iota
	overlayDrawer
	overlayEngines
	overlayToken
	overlayPreview
	overlayAbout
	overlayMessage
)

type (
	errMsg            struct{ err error }
	runMsg            func()
	toastTimeoutMsg   struct{ seq int }
	serviceToggledMsg struct {
		running bool
		err     error
	}
	serviceStoppedMsg struct{}
	statusTickMsg     struct{}
	statusMsg         struct {
		status server.Status
		qr     string
	}
	logLineMsg      string
	logClosedMsg    struct{}
	configChangeMsg struct{}
	enginesMsg      struct {
		engines []httptts.Engine
		err     error
	}
	previewEngineMsg struct {
		engine httptts.Engine
		text   string
		err    error
	}
	aboutMsg          string
	editorFinishedMsg struct{ err error }
	toastMsg          struct {
		text    string
		isError bool
	}
	updateMsg struct {
		result updates.Result
		err    error
		quiet  bool
	}
)

func (e errMsg) Error() string { return e.err.Error() }

// previewState is written by preview callbacks, which run inside Update
// through runMsg, and read right after.
type previewState struct {
	testing bool
	result  string
	failure string
}

type model struct {
	cfg      Config
	deps     Deps
	keys     keyMap
	help     help.Model
	width    int
	height   int
	fatalErr error

	page    page
	overlay overlay

	logs    logPage
	web     webPage
	drawer  drawerModel
	picker  enginePicker
	input   textinput.Model
	about   string
	message struct{ title, body, url string }

	token    string
	wakeLock bool
	running  bool
	toggling bool

	checkingUpdate bool

	toast        string
	toastIsError bool
	toastSeq     int

	tester  *preview.Tester
	preview *previewState
	spinner spinner.Model
	engine  string

	logCh     <-chan string
	logCancel func()
	watcher   *fsnotify.Watcher

	openURL        func(string) error
	copyText       func(string) error
	createShortcut func(desktop.Shortcut) (string, error)
}

func newModel(cfg Config, deps Deps, d preview.Dispatcher) model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = logring.DefaultCapacity
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}

	input := textinput.New()
	input.Prompt = "› "
	input.CharLimit = server.MaxTextLength

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(fuchsia)

	m := model{
		cfg:            cfg,
		deps:           deps,
		keys:           newKeyMap(),
		help:           help.New(),
		logs:           newLogPage(cfg.LogLines),
		drawer:         newDrawerModel(cfg.Version),
		input:          input,
		spinner:        sp,
		preview:        &previewState{},
		token:          deps.Config.Token(),
		wakeLock:       deps.Config.WakeLock(),
		running:        deps.Service.IsRunning(),
		engine:         deps.Config.DefaultEngine(),
		openURL:        desktop.OpenURL,
		copyText:       desktop.CopyToClipboard,
		createShortcut: desktop.CreateShortcut,
	}

	state := m.preview
	m.tester = preview.NewTester(d, deps.NewPlayer)
	m.tester.PlaybackError = func(err error) {
		state.failure = "Playback failed\n" + preview.MessageChain(err)
	}

	if deps.Logs != nil {
		m.logs.setLines(deps.Logs.Lines())
		m.logCh, m.logCancel = deps.Logs.Subscribe(256)
	}

	if cfg.ConfigPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Error("error creating fsnotify watcher", "error", err)
		} else {
			m.watcher = w
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{refreshStatus(m.deps.Service), tickStatus(m.cfg.StatusInterval)}
	if m.logCh != nil {
		cmds = append(cmds, waitForLogLine(m.logCh))
	}
	if m.watcher != nil {
		cmds = append(cmds, watchConfig(m.watcher, m.cfg.ConfigPath))
	}
	if m.running {
		cmds = append(cmds, waitForServiceStop(m.deps.Service.Done()))
	}
	if m.cfg.CheckUpdates && m.deps.Updates != nil {
		cmds = append(cmds, checkUpdates(m.deps.Updates, m.cfg.Version, true))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// If there's been an error, any key exits
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, m.quit()
		}
	}

	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.overlay != overlayNone {
			return m.updateOverlay(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.setSize()

	case errMsg:
		m.fatalErr = msg.err

	case runMsg:
		msg()
		cmd := m.afterPreviewCallback()
		return m, cmd

	case toastMsg:
		cmd := m.showToast(msg.text, msg.isError)
		return m, cmd

	case toastTimeoutMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
			m.toastIsError = false
		}

	case serviceToggledMsg:
		m.toggling = false
		if msg.err != nil {
			m.running = m.deps.Service.IsRunning()
			cmd := m.showToast("Service error: "+msg.err.Error(), true)
			return m, cmd
		}
		m.running = msg.running
		cmds = append(cmds, refreshStatus(m.deps.Service))
		if msg.running {
			cmds = append(cmds,
				waitForServiceStop(m.deps.Service.Done()),
				m.showToast("Service started on "+m.deps.Service.URL(), false))
		} else {
			cmds = append(cmds, m.showToast("Service stopped", false))
		}

	case serviceStoppedMsg:
		if m.running && !m.deps.Service.IsRunning() {
			m.running = false
			cmds = append(cmds, refreshStatus(m.deps.Service), m.showToast("Service stopped", false))
		}

	case statusTickMsg:
		cmds = append(cmds, refreshStatus(m.deps.Service), tickStatus(m.cfg.StatusInterval))

	case statusMsg:
		m.web.status = msg.status
		m.web.qr = msg.qr
		m.running = msg.status.Running

	case logLineMsg:
		m.logs.append(string(msg))
		cmds = append(cmds, waitForLogLine(m.logCh))

	case logClosedMsg:
		m.logCh = nil

	case configChangeMsg:
		if err := m.deps.Config.Reload(); err != nil {
			log.Warn("Could not reload configuration", "error", err)
		}
		m.syncConfig()
		cmds = append(cmds, watchConfig(m.watcher, m.cfg.ConfigPath))

	case editorFinishedMsg:
		if msg.err != nil {
			cmds = append(cmds, m.showToast("Editor failed: "+msg.err.Error(), true))
		} else if err := m.deps.Config.Reload(); err != nil {
			cmds = append(cmds, m.showToast("Invalid configuration: "+err.Error(), true))
		} else {
			m.syncConfig()
			cmds = append(cmds, m.showToast("Settings saved; restart the service to apply", false))
		}

	case enginesMsg:
		if msg.err != nil {
			m.overlay = overlayNone
			cmd := m.showToast("Could not load engines: "+msg.err.Error(), true)
			return m, cmd
		}
		m.picker.setEngines(msg.engines, m.engine)

	case previewEngineMsg:
		if msg.err != nil {
			m.preview.testing = false
			cmd := m.showToast(msg.err.Error(), true)
			return m, cmd
		}
		m.engine = msg.engine.Name
		m.startPreview(msg.engine, msg.text)
		return m, m.spinner.Tick

	case aboutMsg:
		m.about = string(msg)

	case updateMsg:
		cmd := m.handleUpdate(msg)
		return m, cmd

	case spinner.TickMsg:
		if m.preview.testing || m.toggling {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	// Scrolling and mouse input go to the visible page.
	if m.overlay == overlayNone && m.page == pageLog {
		var cmd tea.Cmd
		m.logs.viewport, cmd = m.logs.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.setSize()
		return m, nil

	case key.Matches(msg, m.keys.NextPage):
		m.page = (m.page + 1) % pageCount
		return m, nil

	case key.Matches(msg, m.keys.LogPage):
		m.page = pageLog
		return m, nil

	case key.Matches(msg, m.keys.WebPage):
		m.page = pageWeb
		return m, refreshStatus(m.deps.Service)

	case key.Matches(msg, m.keys.Back):
		if m.page == pageWeb {
			m.page = pageLog
		}
		return m, nil

	case key.Matches(msg, m.keys.Drawer):
		m.overlay = overlayDrawer
		return m, nil

	case key.Matches(msg, m.keys.Service):
		if m.toggling {
			return m, nil
		}
		m.toggling = true
		return m, tea.Batch(toggleService(m.deps.Service), m.spinner.Tick)

	case key.Matches(msg, m.keys.Open):
		cmd := m.openPanel()
		return m, cmd

	case key.Matches(msg, m.keys.ClearData):
		cmd := m.clearWebData()
		return m, cmd

	case key.Matches(msg, m.keys.Token):
		m.openTokenDialog()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.WakeLock):
		cmd := m.toggleWakeLock()
		return m, cmd

	case key.Matches(msg, m.keys.Exemption):
		cmd := m.requestExemption()
		return m, cmd

	case key.Matches(msg, m.keys.Shortcut):
		cmd := m.addShortcut()
		return m, cmd

	case key.Matches(msg, m.keys.Copy):
		cmd := m.copyPanelURL()
		return m, cmd

	case key.Matches(msg, m.keys.Preview):
		if m.preview.testing {
			return m, nil
		}
		m.openPreviewDialog()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.StopPreview):
		m.tester.StopPlay()
		return m, nil
	}

	if m.page == pageLog {
		var cmd tea.Cmd
		m.logs.viewport, cmd = m.logs.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateOverlay(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case overlayDrawer:
		return m.updateDrawer(msg)
	case overlayEngines:
		return m.updatePicker(msg)
	case overlayToken:
		return m.updateTokenDialog(msg)
	case overlayPreview:
		return m.updatePreviewDialog(msg)
	case overlayAbout, overlayMessage:
		switch msg.String() {
		case "esc", "enter", "q":
			m.overlay = overlayNone
		case "o":
			if m.overlay == overlayMessage && m.message.url != "" {
				m.overlay = overlayNone
				if err := m.openURL(m.message.url); err != nil {
					cmd := m.showToast("Could not open browser: "+err.Error(), true)
					return m, cmd
				}
			}
		}
	}
	return m, nil
}

// syncConfig refreshes the menu state from the config store.
func (m *model) syncConfig() {
	m.token = m.deps.Config.Token()
	m.wakeLock = m.deps.Config.WakeLock()
	if e := m.deps.Config.DefaultEngine(); e != "" {
		m.engine = e
	}
}

func (m *model) showToast(text string, isError bool) tea.Cmd {
	m.toast = text
	m.toastIsError = isError
	m.toastSeq++
	seq := m.toastSeq
	return tea.Tick(toastTimeout, func(time.Time) tea.Msg {
		return toastTimeoutMsg{seq: seq}
	})
}

func (m *model) afterPreviewCallback() tea.Cmd {
	p := m.preview
	switch {
	case p.failure != "":
		m.message.title = "Preview failed"
		m.message.body = p.failure
		m.message.url = ""
		m.overlay = overlayMessage
		p.failure = ""
		return nil
	case p.result != "":
		text := p.result
		p.result = ""
		return m.showToast(text, false)
	}
	return nil
}

func (m model) quit() tea.Cmd {
	_ = m.tester.Close()
	if m.logCancel != nil {
		m.logCancel()
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	return tea.Quit
}

func (m *model) setSize() {
	m.logs.setSize(m.width, m.contentHeight())
}

func (m model) helpView() string {
	return helpViewStyle(m.help.View(m.keys))
}

func (m model) contentHeight() int {
	const chrome = 3 // header, tab bar, status bar
	return max(0, m.height-chrome-lipgloss.Height(m.helpView()))
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}

	var content string
	switch m.page {
	case pageWeb:
		content = m.web.view(m.width, m.contentHeight())
	default:
		content = m.logs.view()
	}

	switch m.overlay {
	case overlayDrawer:
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.drawer.view(m.contentHeight()), content)
	case overlayEngines:
		content = m.center(m.picker.view())
	case overlayToken:
		content = m.center(m.dialogView("Set token", "enter confirm • ctrl+r reset • esc cancel"))
	case overlayPreview:
		content = m.center(m.dialogView("Preview "+m.engineLabel(), "enter test • esc cancel"))
	case overlayAbout:
		content = m.center(dialogStyle.Render(strings.TrimSpace(m.about)))
	case overlayMessage:
		hint := "press enter to close"
		if m.message.url != "" {
			hint = "o open in browser • enter close"
		}
		content = m.center(dialogStyle.Render(
			dialogTitleStyle.Render(m.message.title) + "\n" + m.message.body + "\n\n" +
				subtleStyle.Render(hint)))
	}
	content = lipgloss.NewStyle().Height(m.contentHeight()).MaxHeight(m.contentHeight()).Render(content)

	var b strings.Builder
	b.WriteString(m.headerView() + "\n")
	b.WriteString(content + "\n")
	b.WriteString(m.tabBarView() + "\n")
	b.WriteString(m.statusBarView() + "\n")
	b.WriteString(m.helpView())
	return b.String()
}

func (m model) center(s string) string {
	return lipgloss.Place(m.width, m.contentHeight(), lipgloss.Center, lipgloss.Center, s)
}

func (m model) engineLabel() string {
	if m.engine == "" {
		return "(first engine)"
	}
	return m.engine
}
