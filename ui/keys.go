package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Toggle   key.Binding
	Play     key.Binding
	Stop     key.Binding
	Next     key.Binding
	Prev     key.Binding
	Up       key.Binding
	Down     key.Binding
	HalfUp   key.Binding
	HalfDown key.Binding
	Top      key.Binding
	Bottom   key.Binding
	Copy     key.Binding
	Edit     key.Binding
	Voices   key.Binding
	Back     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Toggle:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Play:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play from cursor")),
		Stop:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Next:     key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n/→", "next line")),
		Prev:     key.NewBinding(key.WithKeys("p", "left"), key.WithHelp("p/←", "previous line")),
		Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		HalfUp:   key.NewBinding(key.WithKeys("u", "pgup"), key.WithHelp("u/pgup", "½ page up")),
		HalfDown: key.NewBinding(key.WithKeys("d", "pgdown"), key.WithHelp("d/pgdn", "½ page down")),
		Top:      key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/home", "go to top")),
		Bottom:   key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G/end", "go to bottom")),
		Copy:     key.NewBinding(key.WithKeys("c", "y"), key.WithHelp("c", "copy line")),
		Edit:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit script")),
		Voices:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload voices")),
		Back:     key.NewBinding(key.WithKeys("esc")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Stop, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Play, k.Stop, k.Next, k.Prev},
		{k.Up, k.Down, k.HalfUp, k.HalfDown, k.Top, k.Bottom},
		{k.Copy, k.Edit, k.Voices, k.Help, k.Quit},
	}
}
