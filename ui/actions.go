package ui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/jing332/tts-server-go/internal/desktop"
	"github.com/jing332/tts-server-go/internal/power"
)

var errNoEngines = errors.New("no engines configured; add one with `tts-server engine add`")

const toggleTimeout = 10 * time.Second

func toggleService(svc Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), toggleTimeout)
		defer cancel()
		running, err := svc.Toggle(ctx)
		return serviceToggledMsg{running: running, err: err}
	}
}

func (m *model) openPanel() tea.Cmd {
	if !m.running {
		return m.showToast("Please start the service first", true)
	}
	if err := m.openURL(panelURL(m.deps.Service.URL(), m.token)); err != nil {
		return m.showToast("Could not open browser: "+err.Error(), true)
	}
	return m.showToast("Opened "+m.deps.Service.URL(), false)
}

// panelURL is the panel address carrying token, if any, as a query parameter.
func panelURL(base, token string) string {
	if token == "" {
		return base
	}
	return base + "/?" + url.Values{"token": {token}}.Encode()
}

func (m *model) copyPanelURL() tea.Cmd {
	url := m.deps.Service.URL()
	if m.running {
		if lan := m.deps.Service.LANURL(); lan != "" {
			url = lan
		}
	}
	if err := m.copyText(url); err != nil {
		if errors.Is(err, desktop.ErrUnsupported) {
			return m.showToast("Clipboard not available; the panel is at "+url, true)
		}
		return m.showToast("Could not copy: "+err.Error(), true)
	}
	return m.showToast("Copied "+url, false)
}

// clearWebData drops what panel clients and engines left behind: cached
// audio and cookies.
func (m *model) clearWebData() tea.Cmd {
	if m.deps.Cache != nil {
		if err := m.deps.Cache.Purge(); err != nil {
			return m.showToast("Could not clear cache: "+err.Error(), true)
		}
	}
	if m.deps.Client != nil {
		m.deps.Client.ResetCookies()
	}
	log.Info("Web data cleared")
	return m.showToast("Cleared", false)
}

func (m *model) toggleWakeLock() tea.Cmd {
	enabled := !m.wakeLock
	if err := m.deps.Config.SetWakeLock(enabled); err != nil {
		return m.showToast("Could not save wake lock: "+err.Error(), true)
	}
	m.wakeLock = enabled
	state := "off"
	if enabled {
		state = "on"
	}
	return m.showToast("Wake lock "+state+"; restart the service to apply", false)
}

func (m *model) requestExemption() tea.Cmd {
	if m.deps.Inhibitor == nil {
		return m.showToast("Not supported on this system; please change power settings manually", true)
	}
	res, err := power.RequestExemption(m.deps.Inhibitor)
	if err != nil {
		log.Warn("Power exemption failed", "error", err)
	}
	switch res {
	case power.AlreadyExempt:
		return m.showToast("Already in the power-saving whitelist", false)
	case power.Exempted:
		return m.showToast("Added to the power-saving whitelist", false)
	default:
		return m.showToast("Not supported on this system; please change power settings manually", true)
	}
}

func (m *model) addShortcut() tea.Cmd {
	path, err := m.createShortcut(m.deps.Shortcut)
	if err != nil {
		return m.showToast("Could not create shortcut: "+err.Error(), true)
	}
	return m.showToast("Shortcut created: "+path, false)
}

// watchConfig waits for the next write to the config file. Editors often
// replace files, so the directory is watched.
func watchConfig(w *fsnotify.Watcher, path string) tea.Cmd {
	if w == nil || path == "" {
		return nil
	}
	return func() tea.Msg {
		dir := filepath.Dir(path)
		if err := w.Add(dir); err != nil {
			log.Error("error adding dir to fsnotify watcher", "error", err)
			return nil
		}

		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
				return configChangeMsg{}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				log.Debug("fsnotify error", "dir", dir, "error", err)
			}
		}
	}
}

const updateTimeout = 15 * time.Second

// checkUpdates asks for the latest release. A quiet check only reports a
// newer version; failures are logged.
func checkUpdates(checker UpdateChecker, version string, quiet bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()
		res, err := checker.Check(ctx, version)
		return updateMsg{result: res, err: err, quiet: quiet}
	}
}

func (m *model) startUpdateCheck() tea.Cmd {
	if m.deps.Updates == nil {
		return m.showToast("Update checks are disabled", true)
	}
	if m.checkingUpdate {
		return nil
	}
	m.checkingUpdate = true
	return tea.Batch(
		checkUpdates(m.deps.Updates, m.cfg.Version, false),
		m.showToast("Checking for updates…", false),
	)
}

func (m *model) handleUpdate(msg updateMsg) tea.Cmd {
	if !msg.quiet {
		m.checkingUpdate = false
	}
	res := msg.result
	switch {
	case msg.err != nil:
		log.Warn("Update check failed", "error", msg.err)
		if msg.quiet {
			return nil
		}
		return m.showToast("Update check failed: "+msg.err.Error(), true)

	case res.Newer:
		log.Info("Update available", "current", res.Current, "latest", res.Latest.Tag)
		body := fmt.Sprintf("TTS Server %s is available (you have %s).", res.Latest.Tag, res.Current)
		if !res.Latest.PublishedAt.IsZero() {
			body += "\nReleased " + humanize.Time(res.Latest.PublishedAt) + "."
		}
		if res.Latest.URL != "" {
			body += "\n\n" + res.Latest.URL
		}
		m.message.title = "Update available"
		m.message.body = body
		m.message.url = res.Latest.URL
		m.overlay = overlayMessage
		return nil

	case msg.quiet:
		return nil

	case !res.Comparable:
		return m.showToast("Latest release is "+res.Latest.Tag+"; this build has no version to compare", false)

	default:
		return m.showToast("You are on the latest version ("+res.Latest.Tag+")", false)
	}
}
