package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/status"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollLimit    = 10
)

// API is the slice of the HTTP client the poll transport needs.
type API interface {
	History(ctx context.Context, q client.HistoryQuery) ([]message.Message, error)
	Send(ctx context.Context, req client.SendRequest) (*message.Message, error)
}

// Poll re-fetches the most recent messages on a fixed interval and hands
// every page to the sink as a live batch. Overlap between pages is expected
// and collapsed by the reconciler.
type Poll struct {
	api      API
	interval time.Duration
	limit    int
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoll creates a poll transport. Zero interval or limit use the defaults.
func NewPoll(api API, interval time.Duration, limit int, logger *zap.Logger) *Poll {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poll{
		api:      api,
		interval: interval,
		limit:    limit,
		logger:   logger.With(zap.String("transport", "poll")),
	}
}

func (p *Poll) Mode() Mode { return ModePoll }

// Start launches the tick loop. The first fetch happens immediately.
func (p *Poll) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, sink, p.done)
	return nil
}

func (p *Poll) loop(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	defer sink.SetState(status.Disconnected)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx, sink)
	for {
		select {
		case <-ticker.C:
			p.tick(ctx, sink)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poll) tick(ctx context.Context, sink Sink) {
	batch, err := p.api.History(ctx, client.HistoryQuery{Limit: p.limit})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("poll failed", zap.Error(err))
		sink.SetState(status.Disconnected)
		return
	}
	sink.SetState(status.Connected)
	if len(batch) > 0 {
		sink.Deliver(batch)
	}
}

// Stop clears the ticker and waits for an in-flight fetch to return.
func (p *Poll) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send posts the message and returns the server's copy for immediate merge.
func (p *Poll) Send(ctx context.Context, out Outgoing) (*message.Message, error) {
	created, err := p.api.Send(ctx, client.SendRequest{
		Text:        out.Text,
		Sender:      out.Sender,
		ClientMsgID: out.ClientMsgID,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("send failed", zap.String("client_msg_id", out.ClientMsgID), zap.Error(err))
		}
		return nil, fmt.Errorf("send: %w", err)
	}
	return created, nil
}
