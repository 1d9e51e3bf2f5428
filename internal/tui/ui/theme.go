package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the TUI colors.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	TitleColor        tcell.Color
	MenuKeyColor      tcell.Color
	MineColor         tcell.Color
	OthersColor       tcell.Color
	TimeColor         tcell.Color
	PendingColor      tcell.Color
	FailedColor       tcell.Color
	ConnectedColor    tcell.Color
	ConnectingColor   tcell.Color
	DisconnectedColor tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		TitleColor:        tcell.ColorFuchsia,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		MineColor:         tcell.ColorAqua,
		OthersColor:       tcell.ColorOrange,
		TimeColor:         tcell.ColorGray,
		PendingColor:      tcell.ColorGray,
		FailedColor:       tcell.ColorOrangeRed,
		ConnectedColor:    tcell.ColorLime,
		ConnectingColor:   tcell.ColorYellow,
		DisconnectedColor: tcell.ColorRed,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
	}
}

// Tag returns c as a tview color tag name.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
