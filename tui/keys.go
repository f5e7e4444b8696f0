package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the keyboard shortcuts
type keyMap struct {
	Quit       key.Binding
	Next       key.Binding
	Prev       key.Binding
	Submit     key.Binding
	ToggleMode key.Binding
	Remember   key.Binding
	Resend     key.Binding
	Federated  key.Binding
	Logout     key.Binding
	Leave      key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
	Next: key.NewBinding(
		key.WithKeys("tab", "down"),
		key.WithHelp("tab", "next field"),
	),
	Prev: key.NewBinding(
		key.WithKeys("shift+tab", "up"),
		key.WithHelp("shift+tab", "previous field"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "submit"),
	),
	ToggleMode: key.NewBinding(
		key.WithKeys("ctrl+t"),
		key.WithHelp("ctrl+t", "switch login/signup"),
	),
	Remember: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "remember me"),
	),
	Resend: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "resend code"),
	),
	Federated: key.NewBinding(
		key.WithKeys("ctrl+g"),
		key.WithHelp("ctrl+g", "continue with Google"),
	),
	Logout: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "logout"),
	),
	Leave: key.NewBinding(
		key.WithKeys("q", "esc"),
		key.WithHelp("q", "quit"),
	),
}

func helpLine(bindings ...key.Binding) string {
	out := ""
	for i, b := range bindings {
		if i > 0 {
			out += " • "
		}
		h := b.Help()
		out += h.Key + " " + h.Desc
	}
	return out
}
