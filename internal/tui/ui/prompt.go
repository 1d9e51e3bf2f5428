package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const promptHistory = 20

// Prompt is the ':' command bar. Up and Down walk previous commands.
type Prompt struct {
	*tview.InputField
	history  []string
	cursor   int
	onSubmit func(text string)
	onCancel func()
}

// NewPrompt creates a new command bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField().SetLabel(":")
	input.SetBorder(true)
	input.SetTitle(" Command ")
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := p.GetText()
			p.SetText("")
			if text != "" {
				p.remember(text)
				if p.onSubmit != nil {
					p.onSubmit(text)
				}
			}
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			p.step(-1)
			return nil
		case tcell.KeyDown:
			p.step(1)
			return nil
		}
		return ev
	})
	return p
}

func (p *Prompt) SetOnSubmit(fn func(text string)) { p.onSubmit = fn }

func (p *Prompt) SetOnCancel(fn func()) { p.onCancel = fn }

// Activate clears the field and resets the history cursor.
func (p *Prompt) Activate() {
	p.SetText("")
	p.cursor = len(p.history)
}

func (p *Prompt) remember(text string) {
	if n := len(p.history); n > 0 && p.history[n-1] == text {
		p.cursor = n
		return
	}
	p.history = append(p.history, text)
	if len(p.history) > promptHistory {
		p.history = p.history[len(p.history)-promptHistory:]
	}
	p.cursor = len(p.history)
}

func (p *Prompt) step(delta int) {
	next := p.cursor + delta
	if next < 0 || next > len(p.history) {
		return
	}
	p.cursor = next
	if next == len(p.history) {
		p.SetText("")
		return
	}
	p.SetText(p.history[next])
}
