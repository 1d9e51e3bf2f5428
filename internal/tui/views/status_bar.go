package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/groupchat/internal/status"
	"github.com/matheus3301/groupchat/internal/tui/keys"
	"github.com/matheus3301/groupchat/internal/tui/model"
	"github.com/matheus3301/groupchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows connection state, identity, paging state and the
// current flash notice.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// Render redraws the bar from snap.
func (sb *StatusBar) Render(snap model.Snapshot, flash *model.FlashMessage, hints []keys.Hint) {
	sb.Clear()
	_, _ = fmt.Fprint(sb, StatusLine(snap, flash, hints, sb.theme))
}

// StatusLine builds the bar's tagged text.
func StatusLine(snap model.Snapshot, flash *model.FlashMessage, hints []keys.Hint, theme *ui.Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, " [%s]●[-] %s", ui.Tag(stateColor(snap.State, theme)), strings.ToLower(string(snap.State)))
	fmt.Fprintf(&b, " | [::b]%s[-:-:-] (%s)", tview.Escape(snap.ClientID), snap.Mode)
	fmt.Fprintf(&b, " | %d msgs", len(snap.Messages))
	switch {
	case snap.LoadingOlder:
		b.WriteString(" | loading older…")
	case snap.Exhausted:
		b.WriteString(" | start of history")
	}
	if snap.Failed > 0 {
		fmt.Fprintf(&b, " | [%s]%d unsent[-]", ui.Tag(theme.FailedColor), snap.Failed)
	}

	if flash != nil {
		fmt.Fprintf(&b, " | [%s]%s[-]", ui.Tag(flashColor(flash.Level, theme)), tview.Escape(flash.Text))
	} else if len(hints) > 0 {
		b.WriteString(" |")
		for _, h := range hints {
			fmt.Fprintf(&b, " [%s]<%s>[-] %s", ui.Tag(theme.MenuKeyColor), h.Key, h.Description)
		}
	}
	return b.String()
}

func stateColor(s status.State, theme *ui.Theme) tcell.Color {
	switch s {
	case status.Connected:
		return theme.ConnectedColor
	case status.Connecting:
		return theme.ConnectingColor
	default:
		return theme.DisconnectedColor
	}
}

func flashColor(l model.FlashLevel, theme *ui.Theme) tcell.Color {
	switch l {
	case model.FlashWarn:
		return theme.FlashWarnColor
	case model.FlashErr:
		return theme.FlashErrColor
	default:
		return theme.FlashInfoColor
	}
}
