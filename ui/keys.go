package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Service     key.Binding
	Open        key.Binding
	ClearData   key.Binding
	Token       key.Binding
	WakeLock    key.Binding
	Exemption   key.Binding
	Shortcut    key.Binding
	Copy        key.Binding
	Preview     key.Binding
	StopPreview key.Binding
	NextPage    key.Binding
	LogPage     key.Binding
	WebPage     key.Binding
	Drawer      key.Binding
	Back        key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Service:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start/stop service")),
		Open:        key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open web panel")),
		ClearData:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear web data")),
		Token:       key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "set token")),
		WakeLock:    key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "toggle wake lock")),
		Exemption:   key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "power exemption")),
		Shortcut:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "create shortcut")),
		Copy:        key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy panel url")),
		Preview:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "preview engine")),
		StopPreview: key.NewBinding(key.WithKeys("P"), key.WithHelp("P", "stop preview")),
		NextPage:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch page")),
		LogPage:     key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "log")),
		WebPage:     key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "web panel")),
		Drawer:      key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "menu")),
		Back:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Service, k.Open, k.Preview, k.NextPage, k.Drawer, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Service, k.Open, k.ClearData, k.Copy},
		{k.Token, k.WakeLock, k.Exemption, k.Shortcut},
		{k.Preview, k.StopPreview, k.Drawer, k.Back},
		{k.NextPage, k.LogPage, k.WebPage, k.Help, k.Quit},
	}
}
