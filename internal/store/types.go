package store

import (
	"strconv"

	"github.com/matheus3301/groupchat/internal/message"
)

// DefaultListLimit and MaxListLimit bound ListMessages.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Row is a stored message.
type Row struct {
	ID          int64
	Sender      string
	Text        string
	ClientMsgID string
	CreatedAt   int64
}

// Message converts the row to its wire form.
func (r Row) Message() message.Message {
	return message.Message{
		ID:          message.ID(strconv.FormatInt(r.ID, 10)),
		Sender:      r.Sender,
		Text:        r.Text,
		Timestamp:   r.CreatedAt,
		ClientMsgID: r.ClientMsgID,
	}
}

// ClampLimit maps a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
