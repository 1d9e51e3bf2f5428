package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks ids synthesized on the client for optimistic entries.
const LocalPrefix = "local-"

// ErrEmptyText is returned when a message body is blank after trimming.
var ErrEmptyText = errors.New("message text is empty")

// ID identifies a message within a conversation. Servers may send it as a
// JSON string or number; both decode to the same textual form.
type ID string

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// IsLocal reports whether the id was synthesized for an optimistic entry.
func (id ID) IsLocal() bool { return strings.HasPrefix(string(id), LocalPrefix) }

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Status is the local delivery state of a message. It is never sent on the wire.
type Status string

const (
	StatusConfirmed Status = ""
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Message is a single chat message. Values are treated as immutable: state
// changes produce a new value.
type Message struct {
	ID          ID     `json:"id"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Status      Status `json:"-"`
}

// Pending reports whether the message is an unconfirmed optimistic entry.
func (m Message) Pending() bool { return m.Status == StatusPending }

// Failed reports whether the optimistic send for this entry failed.
func (m Message) Failed() bool { return m.Status == StatusFailed }

// Local reports whether the message carries a client-synthesized id.
func (m Message) Local() bool { return m.ID.IsLocal() }

// WithStatus returns a copy of m with the given status.
func (m Message) WithStatus(s Status) Message {
	m.Status = s
	return m
}

// Validate checks the invariants every stored message must satisfy.
func (m Message) Validate() error {
	if m.ID.IsZero() {
		return errors.New("message id is empty")
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// NormalizeText trims surrounding whitespace and rejects empty bodies.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// NewLocal builds an optimistic entry for text sent by sender. The returned
// message carries a fresh correlation token and a matching local id.
func NewLocal(sender, text string, now int64) Message {
	token := uuid.New().String()
	return Message{
		ID:          ID(LocalPrefix + token),
		Sender:      sender,
		Text:        text,
		Timestamp:   now,
		ClientMsgID: token,
		Status:      StatusPending,
	}
}
