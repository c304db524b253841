package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
)

func (m model) headerView() string {
	logo := logoView()

	dot, state := stoppedDot, "stopped"
	if m.running {
		dot, state = runningDot, "running"
	}
	if m.toggling {
		state = m.spinner.View() + " working"
	}

	token := "off"
	if m.token != "" {
		token = "on"
	}
	wake := "off"
	if m.wakeLock {
		wake = "on"
	}
	flags := subtleStyle.Render(fmt.Sprintf("token %s · wake lock %s", token, wake))

	left := fmt.Sprintf("%s %s %s", logo, dot, state)
	gap := max(1, m.width-ansi.PrintableRuneWidth(left)-ansi.PrintableRuneWidth(flags))
	return left + strings.Repeat(" ", gap) + flags
}

// tabBarView always highlights the page being shown.
func (m model) tabBarView() string {
	tabs := make([]string, 0, pageCount)
	for p := page(0); p < pageCount; p++ {
		label := fmt.Sprintf("%d %s", p+1, p)
		if p == m.page {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, bar)
}

func (m model) statusBarView() string {
	helpNote := statusBarHelpStyle(" ? Help ")

	note := m.toast
	if note == "" {
		switch {
		case m.preview.testing:
			note = m.spinner.View() + " Testing " + m.engineLabel() + "…"
		case m.page == pageWeb && m.running:
			note = m.deps.Service.URL()
		case m.page == pageWeb:
			note = "Press s to start the service"
		default:
			note = fmt.Sprintf("%d lines", m.logs.len())
		}
	}
	// Toasts may span lines; the bar shows the first one.
	note, _, _ = strings.Cut(note, "\n")

	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.width-ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)

	style := statusBarNoteStyle
	switch {
	case m.toast != "" && m.toastIsError:
		style = statusBarErrorStyle
	case m.toast != "":
		style = statusBarMessageStyle
	}
	padding := max(0, m.width-ansi.PrintableRuneWidth(note)-ansi.PrintableRuneWidth(helpNote))
	return style(note+strings.Repeat(" ", padding)) + helpNote
}

// padLines fills every line up to width so backgrounds render evenly.
func padLines(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = l + strings.Repeat(" ", max(width-runewidth.StringWidth(l), 0))
	}
	return strings.Join(lines, "\n")
}
