package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// field is one labelled input of a form
type field struct {
	label string
	input textinput.Model
}

// form is a vertical list of inputs with a single focused field
type form struct {
	fields []field
	focus  int
}

func newInput(placeholder string, secret bool) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 128
	ti.Width = 40
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return ti
}

func newForm(fields ...field) form {
	f := form{fields: fields}
	if len(f.fields) > 0 {
		f.fields[0].input.Focus()
	}
	return f
}

func (f *form) setFocus(i int) tea.Cmd {
	n := len(f.fields)
	if n == 0 {
		return nil
	}
	f.fields[f.focus].input.Blur()
	f.focus = ((i % n) + n) % n
	return f.fields[f.focus].input.Focus()
}

func (f *form) next() tea.Cmd { return f.setFocus(f.focus + 1) }
func (f *form) prev() tea.Cmd { return f.setFocus(f.focus - 1) }

func (f *form) onLast() bool { return f.focus == len(f.fields)-1 }

func (f *form) update(msg tea.Msg) tea.Cmd {
	if len(f.fields) == 0 {
		return nil
	}
	var cmd tea.Cmd
	f.fields[f.focus].input, cmd = f.fields[f.focus].input.Update(msg)
	return cmd
}

func (f *form) value(i int) string {
	return strings.TrimSpace(f.fields[i].input.Value())
}

// rawValue returns the input untrimmed, for passwords
func (f *form) rawValue(i int) string {
	return f.fields[i].input.Value()
}

func (f *form) reset() {
	for i := range f.fields {
		f.fields[i].input.SetValue("")
	}
	f.setFocus(0)
}

func (f *form) view(s Styles) string {
	var b strings.Builder
	for i, fl := range f.fields {
		label := s.Label.Render(fl.label)
		if i == f.focus {
			label = s.Focused.Render(fl.label)
		}
		b.WriteString(label + "\n" + fl.input.View() + "\n\n")
	}
	return b.String()
}
