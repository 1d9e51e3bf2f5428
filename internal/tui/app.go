// Package tui is the terminal client for a group conversation.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/groupchat/internal/tui/keys"
	"github.com/matheus3301/groupchat/internal/tui/model"
	"github.com/matheus3301/groupchat/internal/tui/ui"
	"github.com/matheus3301/groupchat/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageChat = "chat"
	pageHelp = "help"
)

// commands lists the ':' commands for the help page.
var commands = []views.CommandHelp{
	{Usage: ":older / :o", Description: "Load older messages"},
	{Usage: ":retry / :r", Description: "Re-send the latest failed message"},
	{Usage: ":reset / :re", Description: "Clear the timeline and reconnect"},
	{Usage: ":help / :h", Description: "Show this help"},
	{Usage: ":quit / :q", Description: "Quit"},
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	root      *tview.Flex
	pages     *tview.Pages
	theme     *ui.Theme
	vm        *model.ViewModel
	registry  *keys.Registry
	pane      *views.MessagePane
	composer  *views.Composer
	prompt    *ui.Prompt
	statusBar *views.StatusBar
	helpView  *views.HelpView
	ctx       context.Context
	cancel    context.CancelFunc

	promptOpen bool
}

// NewApp creates the TUI application over e.
func NewApp(e model.Engine) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		vm:        model.NewViewModel(e),
		registry:  keys.NewRegistry(),
		pane:      views.NewMessagePane(theme, e.ClientID()),
		composer:  views.NewComposer(theme),
		prompt:    ui.NewPrompt(theme),
		statusBar: views.NewStatusBar(theme),
		helpView:  views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Label: "q", Description: "Quit", Visible: true,
		Handler: a.app.Stop,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Label: "?", Description: "Help", Visible: true,
		Handler: a.showHelp,
	})
	a.registry.AddGlobal("command", &keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Label: ":", Description: "Command",
		Handler: a.openPrompt,
	})

	a.registry.AddView(pageChat, "older", &keys.Action{
		Key: tcell.KeyCtrlO, Label: "Ctrl-O", Description: "Older", Visible: true,
		Handler: a.loadOlder,
	})
	a.registry.AddView(pageChat, "retry", &keys.Action{
		Key: tcell.KeyCtrlR, Label: "Ctrl-R", Description: "Retry", Visible: true,
		Handler: a.retry,
	})
	a.registry.AddView(pageChat, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Label: "i", Description: "Compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView(pageChat, "focus", &keys.Action{
		Key: tcell.KeyTab, Label: "Tab", Description: "Switch focus",
		Handler: a.toggleFocus,
	})
	a.registry.AddView(pageHelp, "back", &keys.Action{
		Key: tcell.KeyEscape, Label: "Esc", Description: "Back", Visible: true,
		Handler: a.showChat,
	})
}

func (a *App) setupCallbacks() {
	a.composer.SetOnSend(func(text string) {
		a.pane.Follow()
		go a.vm.Send(a.ctx, text)
	})
	a.composer.SetOnExit(func() { a.app.SetFocus(a.pane) })
	a.pane.SetOnTop(a.loadOlder)

	a.prompt.SetOnSubmit(func(text string) {
		a.closePrompt()
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.closePrompt)
}

func (a *App) setupLayout() {
	chat := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pane, 0, 1, false).
		AddItem(a.composer, 1, 0, true)

	a.pages.AddPage(pageChat, chat, true, true)
	a.pages.AddPage(pageHelp, a.helpView, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true).EnableMouse(true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if a.promptOpen {
		return event
	}
	page, _ := a.pages.GetFrontPage()

	// Control keys work from the composer too.
	if event.Key() != tcell.KeyRune && event.Key() != tcell.KeyEscape {
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	}

	// Let the composer take printable keys and Esc.
	if a.composer.HasFocus() {
		return event
	}

	if a.registry.HandleEvent(page, event) {
		return nil
	}
	return event
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.app.Stop()
	case "help":
		a.showHelp()
	case "older":
		a.loadOlder()
	case "retry":
		a.retry()
	case "reset":
		go a.vm.Reset()
	case "":
	default:
		a.vm.Flash.Warn("unknown command: " + cmd.Name)
		a.render()
	}
}

func (a *App) loadOlder() { go a.vm.LoadOlder(a.ctx) }

func (a *App) retry() { go a.vm.RetryLatest(a.ctx) }

func (a *App) toggleFocus() {
	if a.composer.HasFocus() {
		a.app.SetFocus(a.pane)
		return
	}
	a.app.SetFocus(a.composer)
}

func (a *App) openPrompt() {
	a.promptOpen = true
	a.root.AddItem(a.prompt, 3, 0, true)
	a.prompt.Activate()
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.promptOpen = false
	a.root.RemoveItem(a.prompt)
	a.app.SetFocus(a.composer)
}

func (a *App) showHelp() {
	a.helpView.Render(a.registry.Hints(pageChat), commands)
	a.pages.SwitchToPage(pageHelp)
	a.app.SetFocus(a.helpView)
	a.render()
}

func (a *App) showChat() {
	a.pages.SwitchToPage(pageChat)
	a.app.SetFocus(a.composer)
	a.render()
}

// render redraws from the current snapshot. Call it on the UI goroutine.
func (a *App) render() {
	snap := a.vm.Snapshot()
	a.pane.Update(snap.Messages)
	page, _ := a.pages.GetFrontPage()
	a.statusBar.Render(snap, a.vm.Flash.Get(), a.registry.Hints(page))
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	defer a.cancel()
	go a.vm.Run(a.ctx)
	go a.refreshLoop()
	a.render()
	return a.app.Run()
}

// refreshLoop redraws on every view model signal, and once a second so
// flash notices expire.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// Stop ends the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
