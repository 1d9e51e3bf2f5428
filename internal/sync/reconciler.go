package sync

import (
	"slices"

	"github.com/matheus3301/groupchat/internal/message"
	"go.uber.org/zap"
)

// Origin tags where a batch came from; it selects the merge rule.
type Origin string

const (
	OriginHistory    Origin = "history"
	OriginLive       Origin = "live"
	OriginPagination Origin = "pagination"
	OriginOptimistic Origin = "optimistic"
)

// Confirmation links a local optimistic entry to the server message that
// replaced it.
type Confirmation struct {
	ClientMsgID string
	LocalID     message.ID
	ID          message.ID
}

// Summary describes what a merge did to the window.
type Summary struct {
	Origin    Origin
	Appended  int
	Prepended int
	Replaced  int
	Collapsed int
	Dropped   int
	Confirmed []Confirmation
	Changed   bool
}

// Reconciler computes the next window from the current one and an incoming
// batch. It holds no message state and never mutates its inputs.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a reconciler. A nil logger discards output.
func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger}
}

// Merge applies batch to current according to origin and returns the new
// window. When nothing changes the returned slice is current itself.
func (r *Reconciler) Merge(current, batch []message.Message, origin Origin) ([]message.Message, Summary) {
	sum := Summary{Origin: origin}
	if len(batch) == 0 {
		return current, sum
	}

	incoming, dropped := uniqueByID(batch)
	sum.Dropped = dropped

	next := slices.Clone(current)
	if origin != OriginOptimistic {
		next, incoming = r.confirm(next, incoming, origin == OriginLive, &sum)
	}

	known := make(map[message.ID]struct{}, len(next))
	for _, m := range next {
		known[m.ID] = struct{}{}
	}
	fresh := incoming[:0:0]
	for _, m := range incoming {
		if _, ok := known[m.ID]; ok {
			sum.Dropped++
			continue
		}
		fresh = append(fresh, m)
	}
	orderByTimestamp(fresh)

	switch origin {
	case OriginHistory, OriginPagination:
		if len(fresh) > 0 {
			next = append(fresh, next...)
			if len(current) == 0 && origin == OriginHistory {
				sum.Appended = len(fresh)
			} else {
				sum.Prepended = len(fresh)
			}
		}
	case OriginLive:
		next = append(next, fresh...)
		sum.Appended = len(fresh)
	case OriginOptimistic:
		for i := range fresh {
			if fresh[i].Status == message.StatusConfirmed {
				fresh[i].Status = message.StatusPending
			}
		}
		next = append(next, fresh...)
		sum.Appended = len(fresh)
	}

	sum.Changed = sum.Appended+sum.Prepended+sum.Replaced+sum.Collapsed > 0
	if !sum.Changed {
		return current, sum
	}
	return next, sum
}

// confirm matches incoming server messages against local entries in next.
// A match replaces the local entry in place, or removes it when the server
// copy is already present. Matched incoming messages are removed from the
// returned batch. Sender and text matching only applies to ids not yet in
// the timeline, so a redelivered message never claims a local entry.
func (r *Reconciler) confirm(next, incoming []message.Message, fuzzy bool, sum *Summary) ([]message.Message, []message.Message) {
	if !hasLocal(next) {
		return next, incoming
	}
	present := make(map[message.ID]struct{}, len(next))
	for _, m := range next {
		present[m.ID] = struct{}{}
	}

	rest := incoming[:0:0]
	for _, in := range incoming {
		if in.ID.IsLocal() {
			rest = append(rest, in)
			continue
		}
		i := -1
		if in.ClientMsgID != "" {
			i = indexLocal(next, func(m message.Message) bool { return m.ClientMsgID == in.ClientMsgID })
		} else if _, known := present[in.ID]; fuzzy && !known {
			i = indexLocal(next, func(m message.Message) bool { return m.Sender == in.Sender && m.Text == in.Text })
		}
		if i < 0 {
			rest = append(rest, in)
			continue
		}

		local := next[i]
		sum.Confirmed = append(sum.Confirmed, Confirmation{ClientMsgID: local.ClientMsgID, LocalID: local.ID, ID: in.ID})
		if _, ok := present[in.ID]; ok {
			next = slices.Delete(next, i, i+1)
			sum.Collapsed++
			r.logger.Debug("collapsed optimistic entry", zap.String("local_id", local.ID.String()), zap.String("id", in.ID.String()))
			continue
		}
		confirmed := in
		confirmed.Status = message.StatusConfirmed
		if confirmed.ClientMsgID == "" {
			confirmed.ClientMsgID = local.ClientMsgID
		}
		if confirmed.Timestamp == 0 {
			confirmed.Timestamp = local.Timestamp
		}
		next[i] = confirmed
		present[in.ID] = struct{}{}
		sum.Replaced++
	}
	return next, rest
}

// SetStatus returns a copy of current with the local entry id marked s.
// Server-confirmed entries are never touched.
func (r *Reconciler) SetStatus(current []message.Message, id message.ID, s message.Status) ([]message.Message, bool) {
	if !id.IsLocal() {
		return current, false
	}
	i := slices.IndexFunc(current, func(m message.Message) bool { return m.ID == id })
	if i < 0 || current[i].Status == s {
		return current, false
	}
	next := slices.Clone(current)
	next[i] = next[i].WithStatus(s)
	return next, true
}

func uniqueByID(batch []message.Message) ([]message.Message, int) {
	seen := make(map[message.ID]struct{}, len(batch))
	out := make([]message.Message, 0, len(batch))
	for _, m := range batch {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out, len(batch) - len(out)
}

// orderByTimestamp sorts ms by timestamp when every entry carries one and
// otherwise keeps delivered order. The sort is stable so equal timestamps
// stay in arrival order.
func orderByTimestamp(ms []message.Message) {
	for _, m := range ms {
		if m.Timestamp == 0 {
			return
		}
	}
	slices.SortStableFunc(ms, func(a, b message.Message) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
}

func hasLocal(ms []message.Message) bool {
	return slices.ContainsFunc(ms, func(m message.Message) bool { return m.ID.IsLocal() })
}

// indexLocal finds the oldest local entry satisfying match.
func indexLocal(ms []message.Message, match func(message.Message) bool) int {
	return slices.IndexFunc(ms, func(m message.Message) bool { return m.ID.IsLocal() && match(m) })
}
