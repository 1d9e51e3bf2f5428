package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/metrics"
	"go.uber.org/zap"
)

// DefaultPageSize bounds a load-older fetch.
const DefaultPageSize = 20

// HistorySource fetches pages of history, oldest first.
type HistorySource interface {
	History(ctx context.Context, q client.HistoryQuery) ([]message.Message, error)
}

// PageResult reports the outcome of LoadOlder. Count is the number of
// messages prepended; callers use it to keep the viewport anchored.
type PageResult struct {
	Loaded    bool
	Count     int
	Coalesced bool
}

// pageTarget is what the pager reads from and merges into.
type pageTarget interface {
	oldestID() (message.ID, bool)
	generation() uint64
	mergePage(gen uint64, batch []message.Message) (Summary, error)
	report(op string, err error)
}

// Pager runs backward history fetches, at most one at a time.
type Pager struct {
	source   HistorySource
	target   pageTarget
	pageSize int
	metrics  *metrics.Sync
	logger   *zap.Logger

	inflight  atomic.Bool
	exhausted atomic.Bool
}

func newPager(source HistorySource, target pageTarget, pageSize int, m *metrics.Sync, logger *zap.Logger) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{source: source, target: target, pageSize: pageSize, metrics: m, logger: logger}
}

// LoadOlder fetches the page before the oldest confirmed message and
// prepends it. A call made while another is in flight returns at once with
// Coalesced set and performs no fetch.
func (p *Pager) LoadOlder(ctx context.Context) (PageResult, error) {
	if !p.inflight.CompareAndSwap(false, true) {
		p.metrics.ObservePagination("coalesced")
		return PageResult{Coalesced: true}, nil
	}
	defer p.inflight.Store(false)

	cursor, ok := p.target.oldestID()
	if !ok {
		p.metrics.ObservePagination("empty")
		return PageResult{}, nil
	}
	gen := p.target.generation()

	batch, err := p.source.History(ctx, client.HistoryQuery{Limit: p.pageSize, BeforeID: cursor})
	if err != nil {
		p.metrics.ObservePagination("error")
		p.target.report("load_older", err)
		return PageResult{}, fmt.Errorf("load older before %s: %w", cursor, err)
	}
	if len(batch) == 0 {
		if p.target.generation() != gen {
			p.metrics.ObservePagination("stale")
			return PageResult{}, ErrStale
		}
		p.exhausted.Store(true)
		// A Reset that landed after the check must not inherit the flag.
		if p.target.generation() != gen {
			p.exhausted.Store(false)
			return PageResult{}, ErrStale
		}
		p.metrics.ObservePagination("exhausted")
		p.logger.Debug("history exhausted", zap.String("cursor", cursor.String()))
		return PageResult{}, nil
	}

	sum, err := p.target.mergePage(gen, batch)
	if err != nil {
		return PageResult{}, err
	}
	p.metrics.ObservePagination("loaded")
	return PageResult{Loaded: sum.Prepended > 0, Count: sum.Prepended}, nil
}

// Exhausted reports whether the last fetch came back empty.
func (p *Pager) Exhausted() bool { return p.exhausted.Load() }

// InFlight reports whether a fetch is outstanding.
func (p *Pager) InFlight() bool { return p.inflight.Load() }

func (p *Pager) reset() { p.exhausted.Store(false) }
