package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/channel"
	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/outbox"
	"github.com/matheus3301/groupchat/internal/status"
	"go.uber.org/zap"
)

const testClient = "user-test"

type fakeChannel struct {
	mode    channel.Mode
	started chan channel.Sink
	send    func(channel.Outgoing) (*message.Message, error)

	mu    sync.Mutex
	sink  channel.Sink
	stops int
	sent  []channel.Outgoing
}

func newFakeChannel(mode channel.Mode) *fakeChannel {
	return &fakeChannel{mode: mode, started: make(chan channel.Sink, 4)}
}

func (c *fakeChannel) Mode() channel.Mode { return c.mode }

func (c *fakeChannel) Start(_ context.Context, sink channel.Sink) error {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	c.started <- sink
	return nil
}

func (c *fakeChannel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeChannel) Send(_ context.Context, out channel.Outgoing) (*message.Message, error) {
	c.mu.Lock()
	c.sent = append(c.sent, out)
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return nil, nil
	}
	return send(out)
}

type fakeHistory struct {
	respond func(call int, q client.HistoryQuery) ([]message.Message, error)

	mu    sync.Mutex
	calls []client.HistoryQuery
}

func (h *fakeHistory) History(_ context.Context, q client.HistoryQuery) ([]message.Message, error) {
	h.mu.Lock()
	call := len(h.calls)
	h.calls = append(h.calls, q)
	h.mu.Unlock()
	if h.respond == nil {
		return nil, nil
	}
	return h.respond(call, q)
}

func (h *fakeHistory) queries() []client.HistoryQuery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]client.HistoryQuery(nil), h.calls...)
}

// pages answers each history call with the next page.
func pages(ps ...[]message.Message) func(int, client.HistoryQuery) ([]message.Message, error) {
	return func(call int, _ client.HistoryQuery) ([]message.Message, error) {
		if call < len(ps) {
			return ps[call], nil
		}
		return nil, nil
	}
}

// startEngine starts an engine and waits for the initial history load and
// the channel start.
func startEngine(t *testing.T, h *fakeHistory, ch *fakeChannel) (*Engine, channel.Sink) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	e, err := New(Options{
		ClientID:     testClient,
		Channel:      ch,
		History:      h,
		InitialLimit: 10,
		PageSize:     20,
		Logger:       logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)

	select {
	case <-e.HistoryLoaded():
	case <-time.After(2 * time.Second):
		t.Fatal("history never loaded")
	}
	var sink channel.Sink
	select {
	case sink = <-ch.started:
	case <-time.After(2 * time.Second):
		t.Fatal("channel never started")
	}
	return e, sink
}

// flush waits until every op posted so far has run on the loop.
func flush(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.do(func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	ch := newFakeChannel(channel.ModePoll)
	h := &fakeHistory{}
	for _, opts := range []Options{
		{Channel: ch, History: h},
		{ClientID: "x", History: h},
		{ClientID: "x", Channel: ch},
	} {
		if _, err := New(opts); err == nil {
			t.Errorf("New(%+v) should fail", opts)
		}
	}
}

func TestStartLoadsHistory(t *testing.T) {
	h := &fakeHistory{respond: pages(batch("1", "2", "3"))}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))

	assertIDs(t, e.Messages(), "1", "2", "3")
	q := h.queries()[0]
	if q.Limit != 10 || !q.BeforeID.IsZero() {
		t.Errorf("initial query = %+v", q)
	}
}

func TestHistoryFailureReported(t *testing.T) {
	b := bus.New()
	errs, unsub := b.Subscribe(bus.KindSyncError, 4)
	defer unsub()

	h := &fakeHistory{respond: func(int, client.HistoryQuery) ([]message.Message, error) {
		return nil, client.ErrTransportUnavailable
	}}
	e, err := New(Options{ClientID: testClient, Channel: newFakeChannel(channel.ModePoll), History: h, Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	select {
	case evt := <-errs:
		rep := evt.Payload.(ErrorReport)
		if rep.Op != "history" || !errors.Is(rep.Err, client.ErrTransportUnavailable) {
			t.Errorf("report = %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sync.error event")
	}
	if len(e.Messages()) != 0 {
		t.Error("store changed after failed history load")
	}
}

func TestLiveDeliveryAppendsAndDedups(t *testing.T) {
	h := &fakeHistory{respond: pages(batch("1", "2"))}
	e, sink := startEngine(t, h, newFakeChannel(channel.ModePoll))

	changes, unsub := e.Bus().Subscribe(bus.KindTimelineChanged, 8)
	defer unsub()

	sink.Deliver(batch("2", "3"))
	flush(t, e)
	assertIDs(t, e.Messages(), "1", "2", "3")

	select {
	case evt := <-changes:
		c := evt.Payload.(Change)
		if c.Appended != 1 || c.Len != 3 {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no timeline.changed event")
	}

	sink.Deliver(batch("2", "3"))
	flush(t, e)
	assertIDs(t, e.Messages(), "1", "2", "3")
	select {
	case evt := <-changes:
		t.Errorf("redelivery published %+v", evt.Payload)
	default:
	}
}

func TestConnectionStateFollowsChannel(t *testing.T) {
	e, sink := startEngine(t, &fakeHistory{}, newFakeChannel(channel.ModePush))
	if e.ConnectionState() != status.Disconnected {
		t.Fatalf("initial state = %s", e.ConnectionState())
	}
	sink.SetState(status.Connecting)
	sink.SetState(status.Connected)
	flush(t, e)
	if e.ConnectionState() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", e.ConnectionState())
	}

	e.Stop()
	if e.ConnectionState() != status.Disconnected {
		t.Errorf("state after Stop = %s, want DISCONNECTED", e.ConnectionState())
	}
}

func TestNoticePublished(t *testing.T) {
	e, sink := startEngine(t, &fakeHistory{}, newFakeChannel(channel.ModePush))
	notices, unsub := e.Bus().Subscribe(bus.KindConnNotice, 1)
	defer unsub()

	sink.Notice("bob joined")
	select {
	case evt := <-notices:
		if evt.Payload != "bob joined" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice event")
	}
	if len(e.Messages()) != 0 {
		t.Error("notice reached the timeline")
	}
}

func TestSendOptimisticVisibility(t *testing.T) {
	ch := newFakeChannel(channel.ModePush)
	release := make(chan struct{})
	ch.send = func(channel.Outgoing) (*message.Message, error) {
		<-release
		return nil, nil
	}
	h := &fakeHistory{respond: pages(batch("1"))}
	e, sink := startEngine(t, h, ch)

	type result struct {
		msg message.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := e.Send(context.Background(), "  hi ")
		done <- result{msg, err}
	}()

	waitFor(t, "optimistic entry", func() bool {
		ms := e.Messages()
		tail := ms[len(ms)-1]
		return tail.Sender == testClient && tail.Text == "hi" && tail.Pending()
	})
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Send() error = %v", res.err)
	}
	if !res.msg.Local() || !res.msg.Pending() {
		t.Errorf("push send should return the pending local entry, got %+v", res.msg)
	}

	sink.Deliver([]message.Message{{ID: "2", Sender: testClient, Text: "hi"}})
	flush(t, e)
	assertIDs(t, e.Messages(), "1", "2")

	entry, ok := e.outbox.Get(res.msg.ClientMsgID)
	if !ok || entry.State != outbox.Confirmed || entry.ServerID != "2" {
		t.Errorf("outbox entry = %+v, %v", entry, ok)
	}
}

func TestSendConfirmsFromResponse(t *testing.T) {
	ch := newFakeChannel(channel.ModePoll)
	ch.send = func(out channel.Outgoing) (*message.Message, error) {
		return &message.Message{ID: "10", Sender: out.Sender, Text: out.Text}, nil
	}
	e, sink := startEngine(t, &fakeHistory{respond: pages(batch("9"))}, ch)

	confirmed, unsub := e.Bus().Subscribe(bus.KindConfirmed, 4)
	defer unsub()

	got, err := e.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.ID != "10" || got.Local() || got.ClientMsgID == "" {
		t.Errorf("Send() = %+v", got)
	}
	assertIDs(t, e.Messages(), "9", "10")

	select {
	case evt := <-confirmed:
		c := evt.Payload.(Confirmation)
		if c.ID != "10" || !c.LocalID.IsLocal() {
			t.Errorf("confirmation = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.confirmed event")
	}

	// The next poll returns the same message without its token.
	sink.Deliver([]message.Message{{ID: "9", Sender: "a", Text: "x"}, {ID: "10", Sender: testClient, Text: "hello"}})
	flush(t, e)
	assertIDs(t, e.Messages(), "9", "10")
}

func TestSendFailureThenRetry(t *testing.T) {
	ch := newFakeChannel(channel.ModePoll)
	fail := true
	ch.send = func(out channel.Outgoing) (*message.Message, error) {
		if fail {
			return nil, client.ErrTransportUnavailable
		}
		return &message.Message{ID: "5", Sender: out.Sender, Text: out.Text, ClientMsgID: out.ClientMsgID}, nil
	}
	e, _ := startEngine(t, &fakeHistory{}, ch)
	failures, unsub := e.Bus().Subscribe(bus.KindSendFailed, 4)
	defer unsub()

	got, err := e.Send(context.Background(), "hi")
	if !errors.Is(err, client.ErrTransportUnavailable) {
		t.Fatalf("Send() err = %v", err)
	}
	if !got.Failed() {
		t.Errorf("returned entry = %+v, want failed", got)
	}
	ms := e.Messages()
	if len(ms) != 1 || !ms[0].Failed() || ms[0].Text != "hi" {
		t.Fatalf("timeline = %+v, want one failed entry", ms)
	}
	select {
	case <-failures:
	case <-time.After(time.Second):
		t.Fatal("no message.send_failed event")
	}
	if len(e.Failed()) != 1 {
		t.Errorf("Failed() = %+v", e.Failed())
	}

	fail = false
	retried, err := e.Retry(context.Background(), ms[0].ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if retried.ID != "5" {
		t.Errorf("Retry() = %+v", retried)
	}
	assertIDs(t, e.Messages(), "5")
	if len(e.Failed()) != 0 {
		t.Errorf("Failed() after retry = %+v", e.Failed())
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.sent) != 2 || ch.sent[0].ClientMsgID != ch.sent[1].ClientMsgID {
		t.Errorf("retry should reuse the token: %+v", ch.sent)
	}
}

func TestRetryErrors(t *testing.T) {
	e, _ := startEngine(t, &fakeHistory{}, newFakeChannel(channel.ModePush))
	if _, err := e.Retry(context.Background(), "local-nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
	sent, err := e.Send(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Retry(context.Background(), sent.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("err = %v, want ErrNotFailed", err)
	}
}

func TestSendEmptyText(t *testing.T) {
	e, _ := startEngine(t, &fakeHistory{}, newFakeChannel(channel.ModePush))
	if _, err := e.Send(context.Background(), " \n "); !errors.Is(err, message.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
	if len(e.Messages()) != 0 {
		t.Error("empty send reached the timeline")
	}
}

func TestLoadOlderPrepends(t *testing.T) {
	h := &fakeHistory{respond: pages(batch("5", "6"), batch("3", "4"))}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))

	res, err := e.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Loaded || res.Count != 2 || res.Coalesced {
		t.Errorf("result = %+v", res)
	}
	assertIDs(t, e.Messages(), "3", "4", "5", "6")

	q := h.queries()[1]
	if q.BeforeID != "5" || q.Limit != 20 {
		t.Errorf("page query = %+v", q)
	}
}

func TestLoadOlderSkipsLocalCursor(t *testing.T) {
	h := &fakeHistory{respond: pages(nil, batch("1"))}
	e, sink := startEngine(t, h, newFakeChannel(channel.ModePush))

	if _, err := e.Send(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	res, err := e.LoadOlder(context.Background())
	if err != nil || res.Loaded {
		t.Fatalf("LoadOlder with only local entries = %+v, %v", res, err)
	}
	if n := len(h.queries()); n != 1 {
		t.Errorf("history calls = %d, want 1", n)
	}

	sink.Deliver(batch("2"))
	flush(t, e)
	if _, err := e.LoadOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q := h.queries()[1]; q.BeforeID != "2" {
		t.Errorf("cursor = %q, want 2", q.BeforeID)
	}
}

func TestLoadOlderExhausted(t *testing.T) {
	h := &fakeHistory{respond: pages(batch("5"), []message.Message{})}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))

	res, err := e.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Loaded || res.Count != 0 {
		t.Errorf("result = %+v", res)
	}
	if !e.Exhausted() {
		t.Error("Exhausted() = false after empty page")
	}
	assertIDs(t, e.Messages(), "5")
}

func TestLoadOlderEmptyStoreIsNoop(t *testing.T) {
	h := &fakeHistory{}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))

	res, err := e.LoadOlder(context.Background())
	if err != nil || res.Loaded {
		t.Errorf("LoadOlder() = %+v, %v", res, err)
	}
	if n := len(h.queries()); n != 1 {
		t.Errorf("history calls = %d, want only the initial load", n)
	}
}

func TestLoadOlderFailureLeavesStore(t *testing.T) {
	h := &fakeHistory{respond: func(call int, _ client.HistoryQuery) ([]message.Message, error) {
		if call == 0 {
			return batch("5"), nil
		}
		return nil, &client.StatusError{Code: 502}
	}}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))
	errs, unsub := e.Bus().Subscribe(bus.KindSyncError, 4)
	defer unsub()

	res, err := e.LoadOlder(context.Background())
	if !errors.Is(err, client.ErrTransportUnavailable) || res.Loaded {
		t.Fatalf("LoadOlder() = %+v, %v", res, err)
	}
	assertIDs(t, e.Messages(), "5")
	select {
	case evt := <-errs:
		if evt.Payload.(ErrorReport).Op != "load_older" {
			t.Errorf("report = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no sync.error event")
	}
	if e.Exhausted() {
		t.Error("failure must not mark history exhausted")
	}
}

func TestLoadOlderCoalesces(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{respond: func(call int, _ client.HistoryQuery) ([]message.Message, error) {
		if call == 0 {
			return batch("5"), nil
		}
		<-gate
		return batch("4"), nil
	}}
	e, _ := startEngine(t, h, newFakeChannel(channel.ModePush))

	first := make(chan PageResult, 1)
	go func() {
		res, _ := e.LoadOlder(context.Background())
		first <- res
	}()
	waitFor(t, "first fetch in flight", func() bool { return len(h.queries()) == 2 })

	res, err := e.LoadOlder(context.Background())
	if err != nil || res.Loaded || !res.Coalesced {
		t.Errorf("second LoadOlder() = %+v, %v; want coalesced", res, err)
	}

	close(gate)
	if got := <-first; !got.Loaded || got.Count != 1 {
		t.Errorf("first LoadOlder() = %+v", got)
	}
	if n := len(h.queries()); n != 2 {
		t.Errorf("history calls = %d, want 2", n)
	}
	assertIDs(t, e.Messages(), "4", "5")
}

func TestStaleCompletionAfterReset(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{respond: func(call int, _ client.HistoryQuery) ([]message.Message, error) {
		switch call {
		case 0:
			return batch("5"), nil
		case 1:
			<-gate
			return batch("4"), nil
		default:
			return batch("7"), nil
		}
	}}
	ch := newFakeChannel(channel.ModePush)
	e, oldSink := startEngine(t, h, ch)

	pageErr := make(chan error, 1)
	go func() {
		_, err := e.LoadOlder(context.Background())
		pageErr <- err
	}()
	waitFor(t, "page fetch in flight", func() bool { return len(h.queries()) == 2 })

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	<-ch.started
	select {
	case <-e.HistoryLoaded():
	case <-time.After(2 * time.Second):
		t.Fatal("history not reloaded after reset")
	}

	close(gate)
	if err := <-pageErr; !errors.Is(err, ErrStale) {
		t.Errorf("stale LoadOlder err = %v, want ErrStale", err)
	}
	oldSink.Deliver(batch("99"))
	flush(t, e)
	assertIDs(t, e.Messages(), "7")

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stops != 1 {
		t.Errorf("channel stops = %d, want 1", ch.stops)
	}
}

func TestStaleEmptyPageAfterReset(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{respond: func(call int, _ client.HistoryQuery) ([]message.Message, error) {
		switch call {
		case 0:
			return batch("5"), nil
		case 1:
			<-gate
			return []message.Message{}, nil
		default:
			return batch("7"), nil
		}
	}}
	ch := newFakeChannel(channel.ModePush)
	e, _ := startEngine(t, h, ch)

	pageErr := make(chan error, 1)
	go func() {
		_, err := e.LoadOlder(context.Background())
		pageErr <- err
	}()
	waitFor(t, "page fetch in flight", func() bool { return len(h.queries()) == 2 })

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	<-ch.started
	select {
	case <-e.HistoryLoaded():
	case <-time.After(2 * time.Second):
		t.Fatal("history not reloaded after reset")
	}

	close(gate)
	if err := <-pageErr; !errors.Is(err, ErrStale) {
		t.Errorf("stale LoadOlder err = %v, want ErrStale", err)
	}
	if e.Exhausted() {
		t.Error("new timeline marked exhausted by a page from before the reset")
	}
	assertIDs(t, e.Messages(), "7")
}

func TestSendBeforeStartLeavesNoOutboxEntry(t *testing.T) {
	e, err := New(Options{
		ClientID: testClient,
		Channel:  newFakeChannel(channel.ModePush),
		History:  &fakeHistory{},
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	if _, err := e.Send(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send before Start err = %v, want ErrClosed", err)
	}
	if open := e.outbox.Unconfirmed(); len(open) != 0 {
		t.Errorf("outbox kept %d entries after a rejected send", len(open))
	}
	if len(e.Messages()) != 0 {
		t.Errorf("messages = %v, want none", ids(e.Messages()))
	}
}

func TestStopRejectsLaterCalls(t *testing.T) {
	e, _ := startEngine(t, &fakeHistory{}, newFakeChannel(channel.ModePush))
	e.Stop()
	e.Stop()

	if _, err := e.Send(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Stop err = %v, want ErrClosed", err)
	}
	if _, err := e.LoadOlder(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadOlder after Stop err = %v, want ErrClosed", err)
	}
	if err := e.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset after Stop err = %v, want ErrClosed", err)
	}
}
