package ui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/preview"
)

func (m model) dialogView(title, hint string) string {
	width := min(max(m.width/2, 30), 72)
	m.input.Width = width - 4
	return dialogStyle.Width(width).Render(
		dialogTitleStyle.Render(title) + "\n" +
			m.input.View() + "\n\n" +
			subtleStyle.Render(hint))
}

func (m *model) openTokenDialog() {
	m.overlay = overlayToken
	m.input.Placeholder = "empty disables authentication"
	m.input.SetValue(m.token)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m model) updateTokenDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.overlay = overlayNone
		m.input.Blur()
		return m, nil

	case "ctrl+r":
		m.overlay = overlayNone
		m.input.Blur()
		cmd := m.setToken("", "Token reset")
		return m, cmd

	case "enter":
		m.overlay = overlayNone
		m.input.Blur()
		text := strings.TrimSpace(m.input.Value())
		if text == m.token {
			return m, nil
		}
		shown := text
		if shown == "" {
			shown = "empty"
		}
		cmd := m.setToken(text, "Token set to "+shown)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) setToken(token, toast string) tea.Cmd {
	if err := m.deps.Config.SetToken(token); err != nil {
		return m.showToast("Could not save token: "+err.Error(), true)
	}
	m.token = token
	if m.running {
		toast += "; restart the service to apply"
	}
	return m.showToast(toast, false)
}

func (m *model) openPreviewDialog() {
	m.overlay = overlayPreview
	m.input.Placeholder = "text to speak"
	m.input.SetValue(m.cfg.PreviewText)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m model) updatePreviewDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.overlay = overlayNone
		m.input.Blur()
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.overlay = overlayNone
		m.input.Blur()
		m.cfg.PreviewText = text
		m.preview.testing = true
		return m, tea.Batch(resolvePreviewEngine(m.deps.Engines, m.engine, text), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// resolvePreviewEngine finds the engine to test: the selected one, else the
// first engine.
func resolvePreviewEngine(lister EngineLister, name, text string) tea.Cmd {
	return func() tea.Msg {
		engines, err := lister.List(context.Background())
		if err != nil {
			return previewEngineMsg{err: err}
		}
		if len(engines) == 0 {
			return previewEngineMsg{err: errNoEngines}
		}
		for _, e := range engines {
			if e.Name == name {
				return previewEngineMsg{engine: e, text: text}
			}
		}
		return previewEngineMsg{engine: engines[0], text: text}
	}
}

// startPreview runs the test. Its callbacks arrive later through runMsg.
func (m *model) startPreview(e httptts.Engine, text string) {
	state := m.preview
	state.testing = true
	m.tester.DoTest(context.Background(), m.deps.Client.Bind(e), text,
		func(size, sampleRate int, mime, contentType string) {
			state.testing = false
			state.result = e.Name + ": " + preview.Result{
				Size:        size,
				SampleRate:  sampleRate,
				MIME:        mime,
				ContentType: contentType,
			}.String()
		},
		func(reason string) {
			state.testing = false
			state.failure = reason
		},
	)
}
