// Package outbox tracks optimistic sends from the moment they are shown
// locally until the server confirms them.
package outbox

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/groupchat/internal/message"
)

// State is the delivery progress of one entry.
type State string

const (
	Queued    State = "queued"
	Sending   State = "sending"
	Sent      State = "sent"
	Confirmed State = "confirmed"
	Failed    State = "failed"
)

// Entry is a snapshot of one tracked send.
type Entry struct {
	ClientMsgID string
	LocalID     message.ID
	Sender      string
	Text        string
	State       State
	Attempts    int
	ServerID    message.ID
	LastError   string
	QueuedAt    time.Time
	UpdatedAt   time.Time
}

// Outbox is an in-memory table of entries keyed by client_msg_id.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*Entry
	byLocal map[message.ID]string
	order   []string
	now     func() time.Time
}

func New() *Outbox {
	return &Outbox{
		entries: make(map[string]*Entry),
		byLocal: make(map[message.ID]string),
		now:     time.Now,
	}
}

// Queue records an optimistic message. Queuing the same token twice is a
// no-op that returns the existing entry.
func (o *Outbox) Queue(local message.Message) (Entry, error) {
	if local.ClientMsgID == "" {
		return Entry{}, fmt.Errorf("queue %s: missing client_msg_id", local.ID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[local.ClientMsgID]; ok {
		return *e, nil
	}
	now := o.now()
	e := &Entry{
		ClientMsgID: local.ClientMsgID,
		LocalID:     local.ID,
		Sender:      local.Sender,
		Text:        local.Text,
		State:       Queued,
		QueuedAt:    now,
		UpdatedAt:   now,
	}
	o.entries[e.ClientMsgID] = e
	o.byLocal[e.LocalID] = e.ClientMsgID
	o.order = append(o.order, e.ClientMsgID)
	return *e, nil
}

// Get returns the entry for a client_msg_id.
func (o *Outbox) Get(clientMsgID string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientMsgID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ByLocalID returns the entry whose optimistic message has the given id.
func (o *Outbox) ByLocalID(id message.ID) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	token, ok := o.byLocal[id]
	if !ok {
		return Entry{}, false
	}
	return *o.entries[token], true
}

// MarkSending moves an entry into Sending and counts the attempt. Entries
// already in flight or confirmed are rejected.
func (o *Outbox) MarkSending(clientMsgID string) (Entry, error) {
	return o.update(clientMsgID, func(e *Entry) error {
		switch e.State {
		case Queued, Failed:
		default:
			return fmt.Errorf("entry %s is %s", e.ClientMsgID, e.State)
		}
		e.State = Sending
		e.Attempts++
		e.LastError = ""
		return nil
	})
}

// MarkSent records a transport-level success. serverID may be empty for
// fire-and-forget transports.
func (o *Outbox) MarkSent(clientMsgID string, serverID message.ID) (Entry, error) {
	return o.update(clientMsgID, func(e *Entry) error {
		if e.State == Confirmed {
			return nil
		}
		e.State = Sent
		if !serverID.IsZero() {
			e.ServerID = serverID
		}
		return nil
	})
}

// MarkFailed records a failed attempt.
func (o *Outbox) MarkFailed(clientMsgID string, cause error) (Entry, error) {
	return o.update(clientMsgID, func(e *Entry) error {
		if e.State == Confirmed {
			return nil
		}
		e.State = Failed
		if cause != nil {
			e.LastError = cause.Error()
		}
		return nil
	})
}

// MarkConfirmed records that the server copy replaced the optimistic entry.
func (o *Outbox) MarkConfirmed(clientMsgID string, serverID message.ID) (Entry, error) {
	return o.update(clientMsgID, func(e *Entry) error {
		e.State = Confirmed
		e.ServerID = serverID
		e.LastError = ""
		return nil
	})
}

// Failed lists failed entries, oldest first.
func (o *Outbox) Failed() []Entry {
	return o.filter(func(e *Entry) bool { return e.State == Failed })
}

// Unconfirmed lists entries the server has not yet echoed, oldest first.
func (o *Outbox) Unconfirmed() []Entry {
	return o.filter(func(e *Entry) bool { return e.State != Confirmed })
}

// Reset drops every entry.
// Remove drops an entry. Unknown tokens are ignored.
func (o *Outbox) Remove(clientMsgID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientMsgID]
	if !ok {
		return
	}
	delete(o.entries, clientMsgID)
	delete(o.byLocal, e.LocalID)
	if i := slices.Index(o.order, clientMsgID); i >= 0 {
		o.order = slices.Delete(o.order, i, i+1)
	}
}

func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = make(map[string]*Entry)
	o.byLocal = make(map[message.ID]string)
	o.order = nil
}

func (o *Outbox) filter(keep func(*Entry) bool) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Entry
	for _, token := range o.order {
		if e := o.entries[token]; keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

func (o *Outbox) update(clientMsgID string, fn func(*Entry) error) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientMsgID]
	if !ok {
		return Entry{}, fmt.Errorf("unknown client_msg_id %q", clientMsgID)
	}
	if err := fn(e); err != nil {
		return *e, err
	}
	e.UpdatedAt = o.now()
	return *e, nil
}
