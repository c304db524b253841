package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/editor"

	"github.com/jing332/tts-server-go/internal/httptts"
)

const drawerWidth = 28

type drawerItem int

const (
	drawerEngines drawerItem = iota
	drawerSettings
	drawerExemption
	drawerUpdates
	drawerAbout
	drawerItemCount
)

func (d drawerItem) String() string {
	return [...]string{"Engines", "Settings", "Power exemption", "Check for updates", "About"}[d]
}

type drawerModel struct {
	version  string
	selected drawerItem
}

func newDrawerModel(version string) drawerModel {
	if version == "" {
		version = "dev"
	}
	return drawerModel{version: version}
}

func (d drawerModel) view(height int) string {
	var b strings.Builder
	b.WriteString(drawerHeaderStyle.Render("TTS Server " + d.version))
	b.WriteString("\n")
	for i := drawerItem(0); i < drawerItemCount; i++ {
		if i == d.selected {
			b.WriteString(selectedItemStyle.Render(i.String()))
		} else {
			b.WriteString(itemStyle.Render(i.String()))
		}
		b.WriteString("\n")
	}
	return drawerStyle.Height(max(0, height-2)).Render(b.String())
}

func (m model) updateDrawer(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+d", "q":
		m.overlay = overlayNone
	case "up", "k":
		m.drawer.selected = (m.drawer.selected + drawerItemCount - 1) % drawerItemCount
	case "down", "j":
		m.drawer.selected = (m.drawer.selected + 1) % drawerItemCount
	case "enter":
		m.overlay = overlayNone
		switch m.drawer.selected {
		case drawerEngines:
			m.overlay = overlayEngines
			m.picker = enginePicker{loading: true}
			return m, loadEngines(m.deps.Engines)
		case drawerSettings:
			return m, openSettings(m.cfg.ConfigPath)
		case drawerExemption:
			cmd := m.requestExemption()
			return m, cmd
		case drawerUpdates:
			cmd := m.startUpdateCheck()
			return m, cmd
		case drawerAbout:
			m.overlay = overlayAbout
			m.about = "Loading…"
			return m, renderAbout(m.cfg.GlamourStyle, m.cfg.Version, min(max(m.width-8, 20), 80))
		}
	}
	return m, nil
}

// enginePicker selects the engine used for previews and by the service when
// a request names none.
type enginePicker struct {
	engines []httptts.Engine
	cursor  int
	loading bool
}

func (p *enginePicker) setEngines(engines []httptts.Engine, current string) {
	p.engines = engines
	p.loading = false
	p.cursor = 0
	for i, e := range engines {
		if e.Name == current {
			p.cursor = i
		}
	}
}

func (p enginePicker) view() string {
	var b strings.Builder
	b.WriteString(dialogTitleStyle.Render("Engines") + "\n")
	switch {
	case p.loading:
		b.WriteString(subtleStyle.Render("Loading…"))
	case len(p.engines) == 0:
		b.WriteString(subtleStyle.Render("No engines yet. Add one with:\n  tts-server engine add"))
	default:
		for i, e := range p.engines {
			line := fmt.Sprintf("%s  %s", e.Name, dimStyle.Render(e.WithDefaults().Method))
			if i == p.cursor {
				b.WriteString(selectedItemStyle.Render(line))
			} else {
				b.WriteString(itemStyle.Render(line))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n" + subtleStyle.Render("enter select • esc close"))
	return dialogStyle.Render(b.String())
}

func (m model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.overlay = overlayNone
	case "up", "k":
		if m.picker.cursor > 0 {
			m.picker.cursor--
		}
	case "down", "j":
		if m.picker.cursor < len(m.picker.engines)-1 {
			m.picker.cursor++
		}
	case "enter":
		m.overlay = overlayNone
		if len(m.picker.engines) == 0 {
			return m, nil
		}
		name := m.picker.engines[m.picker.cursor].Name
		m.engine = name
		if err := m.deps.Config.SetDefaultEngine(name); err != nil {
			cmd := m.showToast("Could not save default engine: "+err.Error(), true)
			return m, cmd
		}
		cmd := m.showToast("Default engine: "+name, false)
		return m, cmd
	}
	return m, nil
}

func loadEngines(lister EngineLister) tea.Cmd {
	return func() tea.Msg {
		engines, err := lister.List(context.Background())
		return enginesMsg{engines: engines, err: err}
	}
}

func openSettings(path string) tea.Cmd {
	if path == "" {
		return func() tea.Msg {
			return toastMsg{text: "No config file in use", isError: true}
		}
	}
	c, err := editor.Cmd("TTS Server", path)
	if err != nil {
		return func() tea.Msg {
			return editorFinishedMsg{fmt.Errorf("unable to set config file: %w", err)}
		}
	}
	return tea.ExecProcess(c, func(err error) tea.Msg {
		return editorFinishedMsg{err}
	})
}

const aboutMarkdown = `# TTS Server %s

A local text-to-speech server with an HTTP API and a web control panel.

The service is written in **Go**.

## Usage

- Press **s** to start the service, then **o** to open the panel.
- Register engines with ` + "`tts-server engine add`" + ` and try them with **p**.
- Set a token with **t** to require ` + "`Authorization: Bearer <token>`" + `.
`

func renderAbout(style, version string, width int) tea.Cmd {
	return func() tea.Msg {
		if version == "" {
			version = "dev"
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithColorProfile(lipgloss.ColorProfile()),
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		md := fmt.Sprintf(aboutMarkdown, version)
		if err != nil {
			return aboutMsg(md)
		}
		out, err := r.Render(md)
		if err != nil {
			return aboutMsg(md)
		}
		return aboutMsg(out)
	}
}
