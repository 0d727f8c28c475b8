package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard shortcuts
type KeyMap struct {
	Left      key.Binding
	Right     key.Binding
	ZoomIn    key.Binding
	ZoomOut   key.Binding
	Taller    key.Binding
	Shorter   key.Binding
	Lock      key.Binding
	Mutations key.Binding
	Search    key.Binding
	More      key.Binding
	Clear     key.Binding
	Refresh   key.Binding
	Help      key.Binding
	Quit      key.Binding
	Enter     key.Binding
	Back      key.Binding
}

var DefaultKeyMap = KeyMap{
	Left: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("←/h", "pan left"),
	),
	Right: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("→/l", "pan right"),
	),
	ZoomIn: key.NewBinding(
		key.WithKeys("+", "="),
		key.WithHelp("+", "zoom in"),
	),
	ZoomOut: key.NewBinding(
		key.WithKeys("-", "_"),
		key.WithHelp("-", "zoom out"),
	),
	Taller: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "stretch"),
	),
	Shorter: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "squash"),
	),
	Lock: key.NewBinding(
		key.WithKeys("L", " "),
		key.WithHelp("space", "lock view"),
	),
	Mutations: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "mutations"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search position"),
	),
	More: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "load more"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear search"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refetch"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "q"),
		key.WithHelp("q", "quit"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "confirm"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Right, k.ZoomIn, k.ZoomOut, k.Lock, k.Mutations, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.ZoomIn, k.ZoomOut, k.Taller, k.Shorter},
		{k.Lock, k.Refresh},
		{k.Mutations, k.Search, k.More, k.Clear},
		{k.Help, k.Quit},
	}
}
