package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessagePane renders the timeline. It sticks to the bottom while the user
// follows new messages, and keeps the visible lines in place when older
// history is prepended.
type MessagePane struct {
	*tview.TextView
	theme    *ui.Theme
	clientID string

	first     message.ID
	count     int
	following bool
	onTop     func()
}

// NewMessagePane creates the timeline view for clientID.
func NewMessagePane(theme *ui.Theme, clientID string) *MessagePane {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true).
		SetWordWrap(false)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Messages ")
	tv.SetTitleColor(theme.TitleColor)

	p := &MessagePane{TextView: tv, theme: theme, clientID: clientID, following: true}
	tv.SetInputCapture(p.handleKey)
	tv.SetMouseCapture(p.handleMouse)
	return p
}

// SetOnTop sets the callback fired when the user scrolls past the first line.
func (p *MessagePane) SetOnTop(fn func()) {
	p.onTop = fn
}

// Following reports whether the pane sticks to the newest message.
func (p *MessagePane) Following() bool { return p.following }

// Follow jumps to the newest message and keeps tracking it.
func (p *MessagePane) Follow() {
	p.following = true
	p.ScrollToEnd()
}

// Update re-renders msgs.
func (p *MessagePane) Update(msgs []message.Message) {
	row, col := p.GetScrollOffset()
	shift := 0
	if n := prependedCount(p.first, msgs); n > 0 {
		_, _, width, _ := p.GetInnerRect()
		var prefix strings.Builder
		for _, m := range msgs[:n] {
			prefix.WriteString(FormatMessage(m, p.clientID, p.theme))
			prefix.WriteByte('\n')
		}
		shift = RenderedHeight(prefix.String(), width)
	}

	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(FormatMessage(m, p.clientID, p.theme))
		b.WriteByte('\n')
	}
	p.SetText(b.String())

	if len(msgs) > 0 {
		p.first = msgs[0].ID
	} else {
		p.first = ""
	}
	p.count = len(msgs)

	if p.following {
		p.ScrollToEnd()
		return
	}
	p.ScrollTo(row+shift, col)
}

func (p *MessagePane) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Key() {
	case tcell.KeyUp, tcell.KeyPgUp, tcell.KeyHome:
		p.scrolledUp(ev.Key() == tcell.KeyHome)
	case tcell.KeyEnd:
		p.Follow()
		return nil
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'k':
			p.scrolledUp(false)
		case 'g':
			p.scrolledUp(true)
		case 'G':
			p.Follow()
			return nil
		}
	}
	return ev
}

func (p *MessagePane) handleMouse(action tview.MouseAction, ev *tcell.EventMouse) (tview.MouseAction, *tcell.EventMouse) {
	if action == tview.MouseScrollUp {
		p.scrolledUp(false)
	}
	return action, ev
}

// scrolledUp runs before the TextView applies the key, so a row of 0 means
// the user is pushing past the top.
func (p *MessagePane) scrolledUp(toTop bool) {
	p.following = false
	row, _ := p.GetScrollOffset()
	if (row == 0 || toTop) && p.count > 0 && p.onTop != nil {
		p.onTop()
	}
}

// FormatMessage renders one timeline line with tview color tags. Message
// text is sanitized and escaped so it cannot inject tags.
func FormatMessage(m message.Message, clientID string, theme *ui.Theme) string {
	who, color := m.Sender, ui.Tag(theme.OthersColor)
	if m.Sender == clientID {
		who, color = "you", ui.Tag(theme.MineColor)
	}
	stamp := "     "
	if m.Timestamp > 0 {
		stamp = time.UnixMilli(m.Timestamp).Format("15:04")
	}
	text := tview.Escape(sanitizeForTerminal(m.Text))

	var marker string
	switch {
	case m.Pending():
		marker = fmt.Sprintf(" [%s]…[-]", ui.Tag(theme.PendingColor))
	case m.Failed():
		marker = fmt.Sprintf(" [%s::b]! not sent[-::-]", ui.Tag(theme.FailedColor))
	}

	return fmt.Sprintf("[%s]%s[-] [%s::b]%s[-::-]: %s%s",
		ui.Tag(theme.TimeColor), stamp, color, tview.Escape(sanitizeForTerminal(who)), text, marker)
}
