package views

import (
	"strings"

	"github.com/matheus3301/groupchat/internal/message"
	"github.com/rivo/tview"
)

// RenderedHeight is the number of screen rows text occupies in a
// character-wrapped view of the given width. Color tags take no space.
func RenderedHeight(text string, width int) int {
	if text == "" {
		return 0
	}
	text = strings.TrimSuffix(text, "\n")
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := tview.TaggedStringWidth(line)
		if width <= 0 || w <= width {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}

// prependedCount reports how many entries were inserted ahead of oldFirst.
// It is 0 when oldFirst is unset or no longer present.
func prependedCount(oldFirst message.ID, msgs []message.Message) int {
	if oldFirst.IsZero() {
		return 0
	}
	for i, m := range msgs {
		if m.ID == oldFirst {
			return i
		}
	}
	return 0
}
