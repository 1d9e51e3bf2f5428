package sync

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/matheus3301/groupchat/internal/message"
)

func m(id string) message.Message {
	return message.Message{ID: message.ID(id), Sender: "alice", Text: "text " + id}
}

func batch(ids ...string) []message.Message {
	out := make([]message.Message, len(ids))
	for i, id := range ids {
		out[i] = m(id)
	}
	return out
}

func ids(ms []message.Message) []string {
	out := make([]string, len(ms))
	for i, msg := range ms {
		out[i] = string(msg.ID)
	}
	return out
}

func assertIDs(t *testing.T, got []message.Message, want ...string) {
	t.Helper()
	g := ids(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", g, want)
	}
}

func assertUnique(t *testing.T, ms []message.Message) {
	t.Helper()
	seen := map[message.ID]bool{}
	for _, msg := range ms {
		if seen[msg.ID] {
			t.Fatalf("duplicate id %q in %v", msg.ID, ids(ms))
		}
		seen[msg.ID] = true
	}
}

func TestMergeEmptyBatchIsNoop(t *testing.T) {
	r := NewReconciler(nil)
	cur := batch("1", "2")
	for _, origin := range []Origin{OriginHistory, OriginLive, OriginPagination, OriginOptimistic} {
		t.Run(string(origin), func(t *testing.T) {
			next, sum := r.Merge(cur, nil, origin)
			if sum.Changed {
				t.Error("Changed = true for empty batch")
			}
			assertIDs(t, next, "1", "2")
		})
	}
}

func TestMergeHistoryIntoEmpty(t *testing.T) {
	r := NewReconciler(nil)
	next, sum := r.Merge(nil, batch("1", "2", "3"), OriginHistory)
	assertIDs(t, next, "1", "2", "3")
	if !sum.Changed || sum.Appended != 3 {
		t.Errorf("summary = %+v, want Appended=3 Changed", sum)
	}
}

func TestMergeHistoryAfterLiveRace(t *testing.T) {
	r := NewReconciler(nil)
	cur := batch("5")
	next, sum := r.Merge(cur, batch("3", "4", "5"), OriginHistory)
	assertIDs(t, next, "3", "4", "5")
	if sum.Prepended != 2 || sum.Dropped != 1 {
		t.Errorf("summary = %+v, want Prepended=2 Dropped=1", sum)
	}
}

func TestMergeLiveTailAppend(t *testing.T) {
	r := NewReconciler(nil)
	next, sum := r.Merge(batch("1", "2"), batch("2", "3"), OriginLive)
	assertIDs(t, next, "1", "2", "3")
	if sum.Appended != 1 || sum.Dropped != 1 || !sum.Changed {
		t.Errorf("summary = %+v, want Appended=1 Dropped=1 Changed", sum)
	}
}

func TestMergeLiveIdempotent(t *testing.T) {
	r := NewReconciler(nil)
	first, sum1 := r.Merge(batch("1"), batch("2", "3"), OriginLive)
	if !sum1.Changed {
		t.Fatal("first merge should change")
	}
	second, sum2 := r.Merge(first, batch("2", "3"), OriginLive)
	if sum2.Changed {
		t.Errorf("second merge Changed = true, summary %+v", sum2)
	}
	assertIDs(t, second, "1", "2", "3")
}

func TestMergeLiveOlderIDsStillAppend(t *testing.T) {
	r := NewReconciler(nil)
	next, _ := r.Merge(batch("10", "11"), batch("2", "12"), OriginLive)
	assertIDs(t, next, "10", "11", "2", "12")
}

func TestMergeLiveTimestampTieBreak(t *testing.T) {
	r := NewReconciler(nil)
	in := batch("a", "b", "c")
	in[0].Timestamp = 300
	in[1].Timestamp = 100
	in[2].Timestamp = 100
	next, _ := r.Merge(nil, in, OriginLive)
	assertIDs(t, next, "b", "c", "a")
}

func TestMergeLivePartialTimestampsKeepArrivalOrder(t *testing.T) {
	r := NewReconciler(nil)
	in := batch("a", "b")
	in[0].Timestamp = 300
	next, _ := r.Merge(nil, in, OriginLive)
	assertIDs(t, next, "a", "b")
}

func TestMergePaginationPrepends(t *testing.T) {
	r := NewReconciler(nil)
	cur, _ := r.Merge(nil, batch("1", "2", "3"), OriginHistory)
	next, sum := r.Merge(cur, batch("0"), OriginPagination)
	assertIDs(t, next, "0", "1", "2", "3")
	if sum.Prepended != 1 || sum.Appended != 0 {
		t.Errorf("summary = %+v, want Prepended=1", sum)
	}
}

func TestMergePaginationFiltersKnown(t *testing.T) {
	r := NewReconciler(nil)
	next, sum := r.Merge(batch("3", "4"), batch("1", "2", "3"), OriginPagination)
	assertIDs(t, next, "1", "2", "3", "4")
	if sum.Prepended != 2 || sum.Dropped != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestMergePaginationAllKnownIsNoop(t *testing.T) {
	r := NewReconciler(nil)
	cur := batch("1", "2")
	next, sum := r.Merge(cur, batch("1"), OriginPagination)
	if sum.Changed || sum.Prepended != 0 {
		t.Errorf("summary = %+v, want unchanged", sum)
	}
	assertIDs(t, next, "1", "2")
}

func TestMergeOptimisticAppendsPending(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	local.Status = ""
	next, sum := r.Merge(batch("1"), []message.Message{local}, OriginOptimistic)
	if sum.Appended != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	tail := next[len(next)-1]
	if tail.Sender != "me" || tail.Text != "hi" || !tail.Pending() {
		t.Errorf("tail = %+v, want pending me/hi", tail)
	}
}

func TestConfirmByClientMsgID(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur, _ := r.Merge(batch("1"), []message.Message{local}, OriginOptimistic)
	cur, _ = r.Merge(cur, batch("2"), OriginLive)

	server := message.Message{ID: "9", Sender: "me", Text: "hi", ClientMsgID: local.ClientMsgID}
	next, sum := r.Merge(cur, []message.Message{server}, OriginLive)

	assertIDs(t, next, "1", "9", "2")
	if sum.Replaced != 1 || sum.Appended != 0 {
		t.Errorf("summary = %+v, want Replaced=1", sum)
	}
	if len(sum.Confirmed) != 1 || sum.Confirmed[0].LocalID != local.ID || sum.Confirmed[0].ID != "9" {
		t.Errorf("Confirmed = %+v", sum.Confirmed)
	}
	if next[1].Pending() {
		t.Error("confirmed entry still pending")
	}
}

func TestConfirmBySenderAndText(t *testing.T) {
	r := NewReconciler(nil)
	a := message.NewLocal("me", "same", 0)
	b := message.NewLocal("me", "same", 0)
	cur, _ := r.Merge(nil, []message.Message{a, b}, OriginOptimistic)

	next, sum := r.Merge(cur, []message.Message{{ID: "5", Sender: "me", Text: "same"}}, OriginLive)
	if sum.Replaced != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	assertIDs(t, next, "5", string(b.ID))
	if next[0].ClientMsgID != a.ClientMsgID {
		t.Errorf("confirmed entry lost correlation token: %+v", next[0])
	}
}

func TestFuzzyMatchIgnoresOtherSenders(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur, _ := r.Merge(nil, []message.Message{local}, OriginOptimistic)
	next, sum := r.Merge(cur, []message.Message{{ID: "5", Sender: "bob", Text: "hi"}}, OriginLive)
	if sum.Replaced != 0 || sum.Appended != 1 {
		t.Errorf("summary = %+v", sum)
	}
	assertIDs(t, next, string(local.ID), "5")
}

func TestFuzzyMatchOnlyForLive(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur, _ := r.Merge(batch("3"), []message.Message{local}, OriginOptimistic)
	next, sum := r.Merge(cur, []message.Message{{ID: "1", Sender: "me", Text: "hi"}}, OriginPagination)
	if sum.Replaced != 0 || sum.Prepended != 1 {
		t.Errorf("summary = %+v", sum)
	}
	assertIDs(t, next, "1", "3", string(local.ID))
}

func TestConfirmCollapsesWhenServerCopyPresent(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur := []message.Message{{ID: "9", Sender: "me", Text: "hi"}, local}

	server := message.Message{ID: "9", Sender: "me", Text: "hi", ClientMsgID: local.ClientMsgID}
	next, sum := r.Merge(cur, []message.Message{server}, OriginLive)
	assertIDs(t, next, "9")
	if sum.Collapsed != 1 || !sum.Changed {
		t.Errorf("summary = %+v, want Collapsed=1", sum)
	}
}

func TestRedeliveredIDNeverClaimsLocalEntry(t *testing.T) {
	tests := []struct {
		name   string
		status message.Status
	}{
		{"pending", message.StatusPending},
		{"failed", message.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(nil)
			local := message.NewLocal("me", "ok", 0).WithStatus(tt.status)
			cur := []message.Message{{ID: "5", Sender: "me", Text: "ok"}, local}

			next, sum := r.Merge(cur, []message.Message{{ID: "5", Sender: "me", Text: "ok"}}, OriginLive)
			assertIDs(t, next, "5", string(local.ID))
			if next[1].Status != tt.status {
				t.Errorf("local status = %q, want %q", next[1].Status, tt.status)
			}
			if sum.Changed || sum.Collapsed != 0 || len(sum.Confirmed) != 0 || sum.Dropped != 1 {
				t.Errorf("summary = %+v, want unchanged with one duplicate dropped", sum)
			}
		})
	}
}

func TestConfirmationRedeliveryIsNoop(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur, _ := r.Merge(nil, []message.Message{local}, OriginOptimistic)
	server := message.Message{ID: "9", Sender: "me", Text: "hi", ClientMsgID: local.ClientMsgID}
	cur, _ = r.Merge(cur, []message.Message{server}, OriginLive)

	next, sum := r.Merge(cur, []message.Message{server}, OriginLive)
	if sum.Changed {
		t.Errorf("redelivery changed window: %+v", sum)
	}
	assertIDs(t, next, "9")
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur := []message.Message{m("1"), local}
	server := message.Message{ID: "9", Sender: "me", Text: "hi", ClientMsgID: local.ClientMsgID}
	_, _ = r.Merge(cur, []message.Message{server}, OriginLive)
	if cur[1].ID != local.ID {
		t.Error("Merge mutated current slice")
	}
}

func TestSetStatus(t *testing.T) {
	r := NewReconciler(nil)
	local := message.NewLocal("me", "hi", 0)
	cur := []message.Message{m("1"), local}

	next, ok := r.SetStatus(cur, local.ID, message.StatusFailed)
	if !ok || !next[1].Failed() {
		t.Fatalf("SetStatus failed: ok=%v entry=%+v", ok, next[1])
	}
	if cur[1].Failed() {
		t.Error("SetStatus mutated input")
	}
	if _, ok := r.SetStatus(cur, "1", message.StatusFailed); ok {
		t.Error("SetStatus should ignore confirmed entries")
	}
	if _, ok := r.SetStatus(cur, "local-missing", message.StatusFailed); ok {
		t.Error("SetStatus should report false for unknown ids")
	}
}

// TestUniquenessAcrossRandomMerges drives random merge sequences and checks
// that no id ever appears twice.
func TestUniquenessAcrossRandomMerges(t *testing.T) {
	r := NewReconciler(nil)
	rng := rand.New(rand.NewSource(7))
	origins := []Origin{OriginHistory, OriginLive, OriginPagination, OriginOptimistic}

	for run := 0; run < 50; run++ {
		var cur []message.Message
		var locals []message.Message
		for step := 0; step < 40; step++ {
			origin := origins[rng.Intn(len(origins))]
			var in []message.Message
			switch origin {
			case OriginOptimistic:
				l := message.NewLocal("me", fmt.Sprintf("t%d", rng.Intn(5)), 0)
				locals = append(locals, l)
				in = []message.Message{l}
			default:
				n := rng.Intn(5)
				for i := 0; i < n; i++ {
					msg := m(fmt.Sprint(rng.Intn(30)))
					if len(locals) > 0 && rng.Intn(4) == 0 {
						l := locals[rng.Intn(len(locals))]
						msg.Sender, msg.Text = l.Sender, l.Text
						if rng.Intn(2) == 0 {
							msg.ClientMsgID = l.ClientMsgID
						}
					}
					in = append(in, msg)
				}
			}
			cur, _ = r.Merge(cur, in, origin)
			assertUnique(t, cur)
		}
	}
}
