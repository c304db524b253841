package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/truncate"
)

// logPage shows the service log and follows new lines while scrolled to the
// bottom.
type logPage struct {
	viewport viewport.Model
	lines    []string
	limit    int
}

func newLogPage(limit int) logPage {
	return logPage{viewport: viewport.New(0, 0), limit: limit}
}

func (p *logPage) setSize(w, h int) {
	follow := p.viewport.AtBottom()
	p.viewport.Width = w
	p.viewport.Height = h
	p.render(follow)
}

func (p *logPage) setLines(lines []string) {
	if len(lines) > p.limit {
		lines = lines[len(lines)-p.limit:]
	}
	p.lines = append([]string(nil), lines...)
	p.render(true)
}

func (p *logPage) append(line string) {
	follow := p.viewport.AtBottom()
	p.lines = append(p.lines, line)
	if over := len(p.lines) - p.limit; over > 0 {
		p.lines = p.lines[over:]
	}
	p.render(follow)
}

func (p *logPage) len() int {
	return len(p.lines)
}

func (p *logPage) render(follow bool) {
	if len(p.lines) == 0 {
		p.viewport.SetContent(subtleStyle.Render("  No log output yet. Press s to start the service."))
		return
	}
	var b strings.Builder
	for i, l := range p.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if p.viewport.Width > 0 {
			l = truncate.StringWithTail(l, uint(p.viewport.Width), ellipsis) //nolint:gosec
		}
		b.WriteString(l)
	}
	p.viewport.SetContent(b.String())
	if follow {
		p.viewport.GotoBottom()
	}
}

func (p logPage) view() string {
	return p.viewport.View()
}

func waitForLogLine(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return logClosedMsg{}
		}
		return logLineMsg(line)
	}
}
