package outbox

import (
	"errors"
	"testing"

	"github.com/matheus3301/groupchat/internal/message"
)

func TestQueueAndLookup(t *testing.T) {
	o := New()
	local := message.NewLocal("me", "hi", 0)

	e, err := o.Queue(local)
	if err != nil {
		t.Fatal(err)
	}
	if e.State != Queued || e.LocalID != local.ID || e.Text != "hi" {
		t.Errorf("entry = %+v", e)
	}
	if got, ok := o.ByLocalID(local.ID); !ok || got.ClientMsgID != local.ClientMsgID {
		t.Errorf("ByLocalID = %+v, %v", got, ok)
	}
	again, _ := o.Queue(local)
	if again.QueuedAt != e.QueuedAt {
		t.Error("re-queue replaced the entry")
	}
}

func TestQueueRequiresToken(t *testing.T) {
	if _, err := New().Queue(message.Message{ID: "local-x", Text: "hi"}); err == nil {
		t.Error("expected error without client_msg_id")
	}
}

func TestLifecycle(t *testing.T) {
	o := New()
	local := message.NewLocal("me", "hi", 0)
	_, _ = o.Queue(local)
	token := local.ClientMsgID

	steps := []struct {
		name string
		do   func() (Entry, error)
		want State
	}{
		{"sending", func() (Entry, error) { return o.MarkSending(token) }, Sending},
		{"failed", func() (Entry, error) { return o.MarkFailed(token, errors.New("down")) }, Failed},
		{"retry", func() (Entry, error) { return o.MarkSending(token) }, Sending},
		{"sent", func() (Entry, error) { return o.MarkSent(token, "42") }, Sent},
		{"confirmed", func() (Entry, error) { return o.MarkConfirmed(token, "42") }, Confirmed},
	}
	for _, step := range steps {
		e, err := step.do()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if e.State != step.want {
			t.Fatalf("%s: state = %s, want %s", step.name, e.State, step.want)
		}
	}
	e, _ := o.Get(token)
	if e.Attempts != 2 || e.ServerID != "42" || e.LastError != "" {
		t.Errorf("final entry = %+v", e)
	}
}

func TestMarkSendingRejectsInFlight(t *testing.T) {
	o := New()
	local := message.NewLocal("me", "hi", 0)
	_, _ = o.Queue(local)
	if _, err := o.MarkSending(local.ClientMsgID); err != nil {
		t.Fatal(err)
	}
	if _, err := o.MarkSending(local.ClientMsgID); err == nil {
		t.Error("second MarkSending should fail")
	}
}

func TestConfirmedIsSticky(t *testing.T) {
	o := New()
	local := message.NewLocal("me", "hi", 0)
	_, _ = o.Queue(local)
	_, _ = o.MarkSending(local.ClientMsgID)
	_, _ = o.MarkConfirmed(local.ClientMsgID, "9")

	if e, _ := o.MarkFailed(local.ClientMsgID, errors.New("late")); e.State != Confirmed {
		t.Errorf("late failure overwrote confirmation: %+v", e)
	}
	if e, _ := o.MarkSent(local.ClientMsgID, ""); e.State != Confirmed {
		t.Errorf("late ack overwrote confirmation: %+v", e)
	}
}

func TestFailedAndUnconfirmed(t *testing.T) {
	o := New()
	a := message.NewLocal("me", "a", 0)
	b := message.NewLocal("me", "b", 0)
	c := message.NewLocal("me", "c", 0)
	for _, m := range []message.Message{a, b, c} {
		_, _ = o.Queue(m)
	}
	_, _ = o.MarkSending(a.ClientMsgID)
	_, _ = o.MarkFailed(a.ClientMsgID, errors.New("x"))
	_, _ = o.MarkConfirmed(b.ClientMsgID, "1")

	failed := o.Failed()
	if len(failed) != 1 || failed[0].ClientMsgID != a.ClientMsgID {
		t.Errorf("Failed() = %+v", failed)
	}
	open := o.Unconfirmed()
	if len(open) != 2 || open[0].Text != "a" || open[1].Text != "c" {
		t.Errorf("Unconfirmed() = %+v", open)
	}

	o.Reset()
	if len(o.Unconfirmed()) != 0 {
		t.Error("Reset left entries")
	}
}

func TestUnknownToken(t *testing.T) {
	if _, err := New().MarkSent("nope", ""); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestRemove(t *testing.T) {
	o := New()
	a := message.NewLocal("me", "a", 0)
	b := message.NewLocal("me", "b", 0)
	_, _ = o.Queue(a)
	_, _ = o.Queue(b)

	o.Remove(a.ClientMsgID)
	o.Remove("unknown")

	if _, ok := o.Get(a.ClientMsgID); ok {
		t.Error("removed entry still present")
	}
	if _, ok := o.ByLocalID(a.ID); ok {
		t.Error("removed entry still indexed by local id")
	}
	open := o.Unconfirmed()
	if len(open) != 1 || open[0].ClientMsgID != b.ClientMsgID {
		t.Errorf("unconfirmed = %+v, want only b", open)
	}
}
