package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/jing332/tts-server-go/internal/server"
)

// webPage describes the web control panel: where to reach it and what the
// service behind it is doing.
type webPage struct {
	status server.Status
	qr     string
}

func (p webPage) view(width, height int) string {
	st := p.status

	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}

	var rows []string
	if !st.Running {
		rows = append(rows,
			row("Status", "stopped"),
			row("Panel", st.URL),
			"",
			subtleStyle.Render("Start the service with s to use the web panel."),
		)
		return padLines(indent(strings.Join(rows, "\n"), 2), width)
	}

	rows = append(rows,
		row("Status", "running since "+humanize.Time(st.StartedAt)),
		row("Panel", st.URL),
	)
	if st.LANURL != "" {
		rows = append(rows, row("Network", st.LANURL))
	}
	auth := "disabled"
	if st.Auth {
		auth = "token required"
	}
	wake := "off"
	switch {
	case st.WakeLock && st.WakeHeld:
		wake = "held"
	case st.WakeLock:
		wake = "requested, not held"
	}
	rows = append(rows,
		row("Auth", auth),
		row("Wake lock", wake),
		row("Requests", humanize.Comma(st.Requests)),
		row("Upstream", humanize.Comma(st.Upstream)),
		row("Log clients", fmt.Sprint(st.LogClients)),
	)
	if c := st.Cache; c != nil {
		rows = append(rows, row("Cache", fmt.Sprintf("%s in %s items, %.0f%% hits",
			humanize.Bytes(uint64(max(c.Size, 0))), humanize.Comma(c.Items), c.HitRate*100)))
	}
	info := indent(strings.Join(rows, "\n"), 2)

	// Put the QR code next to the details when there is room.
	if p.qr != "" && lipgloss.Height(p.qr) <= height && lipgloss.Width(info)+lipgloss.Width(p.qr)+4 <= width {
		info = lipgloss.JoinHorizontal(lipgloss.Top, info, "    ", p.qr)
	}
	return info
}

func refreshStatus(svc Service) tea.Cmd {
	return func() tea.Msg {
		st := svc.Status()
		msg := statusMsg{status: st}
		if st.Running && st.LANURL != "" {
			qr, err := server.QRText(st.LANURL)
			if err != nil {
				log.Debug("Could not render QR code", "error", err)
			}
			msg.qr = qr
		}
		return msg
	}
}

func tickStatus(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func waitForServiceStop(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return serviceStoppedMsg{}
	}
}
