// Package channel delivers live message batches and connectivity changes
// from the chat server. Two transports implement the same contract: a
// persistent websocket (push) and a fixed-interval history fetch (poll).
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/status"
)

// Mode selects a transport.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// ParseMode validates a configured transport name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePush, ModePoll:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown transport mode %q (want push or poll)", s)
}

var (
	// ErrNotConnected is returned by Push.Send without an open socket.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("channel already started")
)

// Sink receives everything a channel observes. Implementations must not
// block for long; the channel calls them from its read or tick goroutine.
type Sink interface {
	Deliver(batch []message.Message)
	SetState(s status.State)
	Notice(text string)
}

// Outgoing is a message the local participant wants to send.
type Outgoing struct {
	Text        string
	Sender      string
	ClientMsgID string
}

// Channel is a live transport. It holds no message state of its own.
type Channel interface {
	Mode() Mode
	// Start begins delivery to sink. It returns once the transport is
	// running; delivery continues until Stop or ctx is cancelled.
	Start(ctx context.Context, sink Sink) error
	Stop()
	// Send transmits out. Transports that get the created message back
	// return it; fire-and-forget transports return nil on success.
	Send(ctx context.Context, out Outgoing) (*message.Message, error)
}
