package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/groupchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onExit func()
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("type a message, Enter to send")
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MineColor)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			c.submit()
		case tcell.KeyEscape:
			if c.onExit != nil {
				c.onExit()
			}
		}
	})

	return c
}

func (c *Composer) submit() {
	text := c.GetText()
	if strings.TrimSpace(text) == "" || c.onSend == nil {
		return
	}
	c.SetText("")
	c.onSend(text)
}

// SetOnSend sets the callback when a message is sent.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnExit sets the callback for Esc.
func (c *Composer) SetOnExit(fn func()) {
	c.onExit = fn
}
