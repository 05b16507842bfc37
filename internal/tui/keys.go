package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the bindings of the editor screen. It implements
// [help.KeyMap].
type keyMap struct {
	Next     key.Binding
	Prev     key.Binding
	Rulesets key.Binding
	Open     key.Binding
	Reload   key.Binding
	Quit     key.Binding
	Cancel   key.Binding
	Confirm  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Next: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next ruleset"),
		),
		Prev: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "previous ruleset"),
		),
		Rulesets: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "rulesets"),
		),
		Open: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "open rules"),
		),
		Reload: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "reload"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
	}
}

// ShortHelp returns the bindings shown in the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Rulesets, k.Open, k.Reload, k.Quit}
}

// FullHelp returns all editor bindings.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev, k.Rulesets},
		{k.Open, k.Reload, k.Quit},
	}
}
