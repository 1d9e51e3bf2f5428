package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/groupchat/internal/tui/keys"
	"github.com/matheus3301/groupchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// CommandHelp documents one ':' command.
type CommandHelp struct {
	Usage       string
	Description string
}

// HelpView displays key binding and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{TextView: tv, theme: theme}
}

// Render fills the view from the active bindings and command list.
func (hv *HelpView) Render(hints []keys.Hint, commands []CommandHelp) {
	hv.Clear()
	_, _ = fmt.Fprint(hv, HelpText(hints, commands, hv.theme))
	hv.ScrollToBeginning()
}

// HelpText builds the help body.
func HelpText(hints []keys.Hint, commands []CommandHelp, theme *ui.Theme) string {
	kc := ui.Tag(theme.MenuKeyColor)
	var b strings.Builder

	b.WriteString("\n  [::b]Keys[-:-:-]\n\n")
	for _, h := range hints {
		fmt.Fprintf(&b, "  [%s]%-10s[-] %s\n", kc, h.Key, h.Description)
	}

	b.WriteString("\n  [::b]Commands (: mode)[-:-:-]\n\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  [%s]%-16s[-] %s\n", kc, tview.Escape(c.Usage), c.Description)
	}

	b.WriteString("\n  [::b]Timeline[-:-:-]\n\n")
	b.WriteString("  Scroll past the top to load older messages.\n")
	b.WriteString("  … marks a message waiting for the server, ! one that failed to send.\n")
	return b.String()
}
