package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/channel"
	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/metrics"
	"github.com/matheus3301/groupchat/internal/outbox"
	"github.com/matheus3301/groupchat/internal/status"
	"github.com/matheus3301/groupchat/internal/timeline"
	"go.uber.org/zap"
)

// DefaultInitialLimit is the size of the first history fetch.
const DefaultInitialLimit = 10

var (
	// ErrClosed is returned once the engine has been stopped.
	ErrClosed = errors.New("synchronizer closed")
	// ErrStale is returned when an operation completes after a Reset or
	// Stop invalidated the generation it started in.
	ErrStale = errors.New("result arrived after reset")
	// ErrUnknownMessage is returned by Retry for ids it does not track.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotFailed is returned by Retry for entries that have not failed.
	ErrNotFailed = errors.New("message has not failed")
)

// Change is the payload of timeline.changed.
type Change struct {
	Summary
	Len   int
	Reset bool
}

// ErrorReport is the payload of sync.error.
type ErrorReport struct {
	Op  string
	Err error
}

// Options configures an Engine. ClientID, Channel and History are required.
type Options struct {
	ClientID     string
	Channel      channel.Channel
	History      HistorySource
	InitialLimit int
	PageSize     int
	Bus          *bus.Bus
	Metrics      *metrics.Sync
	Logger       *zap.Logger
	Now          func() time.Time
}

const (
	stateNew int32 = iota
	stateRunning
	stateClosed
)

// Engine keeps one conversation's timeline in sync. Every timeline write
// runs on a single loop goroutine; transports, sends and pagination run
// concurrently and post their results to it.
type Engine struct {
	clientID     string
	channel      channel.Channel
	history      HistorySource
	initialLimit int

	store      *timeline.Store
	reconciler *Reconciler
	machine    *status.Machine
	outbox     *outbox.Outbox
	sender     *outbox.Sender
	pager      *Pager

	bus     *bus.Bus
	metrics *metrics.Sync
	logger  *zap.Logger
	now     func() time.Time

	// connMu serializes channel Start and Stop.
	connMu     sync.Mutex
	connCancel atomic.Pointer[context.CancelFunc]

	ops         chan func()
	epoch       atomic.Uint64
	state       atomic.Int32
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	historyDone atomic.Pointer[chan struct{}]
}

// New creates an engine. It does nothing until Start.
func New(opts Options) (*Engine, error) {
	if opts.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("channel is required")
	}
	if opts.History == nil {
		return nil, errors.New("history source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitialLimit <= 0 {
		opts.InitialLimit = DefaultInitialLimit
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}

	logger := opts.Logger.With(zap.String("client_id", opts.ClientID))
	box := outbox.New()
	e := &Engine{
		clientID:     opts.ClientID,
		channel:      opts.Channel,
		history:      opts.History,
		initialLimit: opts.InitialLimit,
		store:        timeline.New(),
		reconciler:   NewReconciler(logger),
		machine:      status.NewMachine(opts.Bus),
		outbox:       box,
		sender:       outbox.NewSender(box, opts.Channel, opts.Bus, logger),
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          opts.Now,
		ops:          make(chan func(), 64),
		done:         make(chan struct{}),
	}
	e.pager = newPager(opts.History, e, opts.PageSize, opts.Metrics, logger)
	ch := make(chan struct{})
	e.historyDone.Store(&ch)
	return e, nil
}

// Start runs the loop, connects the channel and fetches recent history.
// It returns without waiting for either.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateNew, stateRunning) {
		return errors.New("synchronizer already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.loop()

	gen := e.epoch.Load()
	e.connect(gen)
	go e.loadHistory(gen, *e.historyDone.Load())
	e.logger.Info("synchronizer started",
		zap.String("mode", string(e.channel.Mode())),
		zap.Int("initial_limit", e.initialLimit))
	return nil
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.ctx.Done():
			return
		}
	}
}

// Stop tears down the channel and the loop. Results still in flight are
// discarded. Stop is idempotent.
func (e *Engine) Stop() {
	if e.state.CompareAndSwap(stateNew, stateClosed) {
		close(e.done)
		return
	}
	if !e.state.CompareAndSwap(stateRunning, stateClosed) {
		return
	}
	e.epoch.Add(1)
	e.disconnect()
	e.cancel()
	<-e.done
	e.setState(status.Disconnected)
	e.logger.Info("synchronizer stopped", zap.Int("unconfirmed", len(e.outbox.Unconfirmed())))
}

// Reset clears the timeline and outbox, then reconnects and reloads history
// under a new generation.
func (e *Engine) Reset() error {
	if e.state.Load() != stateRunning {
		return ErrClosed
	}
	gen := e.epoch.Add(1)
	e.disconnect()

	ch := make(chan struct{})
	e.historyDone.Store(&ch)
	err := e.do(func() {
		e.store.Reset()
		e.outbox.Reset()
		e.pager.reset()
		e.setState(status.Disconnected)
		e.bus.Emit(bus.KindTimelineChanged, Change{Reset: true})
	})
	if err != nil {
		return err
	}

	e.connect(gen)
	go e.loadHistory(gen, ch)
	e.logger.Info("synchronizer reset", zap.Uint64("generation", gen))
	return nil
}

func (e *Engine) connect(gen uint64) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.connCancel.Store(&cancel)
	go func() {
		e.connMu.Lock()
		defer e.connMu.Unlock()
		if ctx.Err() != nil || e.epoch.Load() != gen {
			return
		}
		if err := e.channel.Start(ctx, &engineSink{e: e, gen: gen}); err != nil && e.epoch.Load() == gen {
			e.report("connect", err)
		}
	}()
}

// disconnect aborts a pending connect and stops the channel.
func (e *Engine) disconnect() {
	if cancel := e.connCancel.Swap(nil); cancel != nil {
		(*cancel)()
	}
	e.connMu.Lock()
	e.channel.Stop()
	e.connMu.Unlock()
}

func (e *Engine) loadHistory(gen uint64, done chan struct{}) {
	defer close(done)
	batch, err := e.history.History(e.ctx, client.HistoryQuery{Limit: e.initialLimit})
	if err != nil {
		if e.epoch.Load() == gen {
			e.report("history", err)
		}
		return
	}
	sum, err := e.merge(gen, batch, OriginHistory)
	if err != nil {
		return
	}
	e.logger.Info("history loaded", zap.Int("fetched", len(batch)), zap.Int("added", sum.Appended+sum.Prepended))
}

// HistoryLoaded is closed when the current generation's initial history
// fetch has finished, successfully or not.
func (e *Engine) HistoryLoaded() <-chan struct{} {
	return *e.historyDone.Load()
}

// Send shows text immediately as a pending local message and hands it to
// the channel. Transports that return the created message confirm it before
// Send returns; otherwise confirmation arrives with a later live delivery.
// On failure the local message is marked failed and kept for Retry.
func (e *Engine) Send(ctx context.Context, text string) (message.Message, error) {
	text, err := message.NormalizeText(text)
	if err != nil {
		return message.Message{}, err
	}
	gen := e.epoch.Load()
	local := message.NewLocal(e.clientID, text, e.now().UnixMilli())
	if _, err := e.outbox.Queue(local); err != nil {
		return message.Message{}, err
	}
	if _, err := e.merge(gen, []message.Message{local}, OriginOptimistic); err != nil {
		e.outbox.Remove(local.ClientMsgID)
		return message.Message{}, err
	}
	return e.transmit(ctx, gen, local)
}

// Retry re-sends a failed local message with its original correlation token.
func (e *Engine) Retry(ctx context.Context, id message.ID) (message.Message, error) {
	entry, ok := e.outbox.ByLocalID(id)
	if !ok {
		return message.Message{}, fmt.Errorf("retry %s: %w", id, ErrUnknownMessage)
	}
	if entry.State != outbox.Failed {
		return message.Message{}, fmt.Errorf("retry %s (%s): %w", id, entry.State, ErrNotFailed)
	}
	local, ok := e.store.Get(id)
	if !ok {
		return message.Message{}, fmt.Errorf("retry %s: %w", id, ErrUnknownMessage)
	}
	gen := e.epoch.Load()
	if err := e.markLocal(gen, id, message.StatusPending); err != nil {
		return message.Message{}, err
	}
	return e.transmit(ctx, gen, local.WithStatus(message.StatusPending))
}

func (e *Engine) transmit(ctx context.Context, gen uint64, local message.Message) (message.Message, error) {
	created, err := e.sender.Send(ctx, local.ClientMsgID)
	e.metrics.ObserveSend(err)
	if err != nil {
		if markErr := e.markLocal(gen, local.ID, message.StatusFailed); markErr != nil {
			e.logger.Debug("could not mark send failed", zap.Error(markErr))
		}
		return local.WithStatus(message.StatusFailed), err
	}
	if created == nil {
		return local, nil
	}

	confirmed := *created
	if confirmed.ClientMsgID == "" {
		confirmed.ClientMsgID = local.ClientMsgID
	}
	if _, err := e.merge(gen, []message.Message{confirmed}, OriginLive); err != nil {
		return confirmed, err
	}
	return confirmed, nil
}

// LoadOlder prepends the page before the oldest confirmed message.
func (e *Engine) LoadOlder(ctx context.Context) (PageResult, error) {
	if e.state.Load() != stateRunning {
		return PageResult{}, ErrClosed
	}
	return e.pager.LoadOlder(ctx)
}

// Messages returns a snapshot of the timeline, oldest first.
func (e *Engine) Messages() []message.Message { return e.store.Current() }

// ConnectionState returns the channel's last reported state.
func (e *Engine) ConnectionState() status.State { return e.machine.Current() }

// ClientID returns the local participant id.
func (e *Engine) ClientID() string { return e.clientID }

// Mode returns the live transport in use.
func (e *Engine) Mode() channel.Mode { return e.channel.Mode() }

// Bus returns the bus the engine publishes on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Exhausted reports whether load-older has reached the start of history.
func (e *Engine) Exhausted() bool { return e.pager.Exhausted() }

// Failed lists sends awaiting Retry, oldest first.
func (e *Engine) Failed() []outbox.Entry { return e.outbox.Failed() }

// merge reconciles batch on the loop and waits for the result.
func (e *Engine) merge(gen uint64, batch []message.Message, origin Origin) (Summary, error) {
	var (
		sum Summary
		err error
	)
	if doErr := e.do(func() { sum, err = e.apply(gen, batch, origin) }); doErr != nil {
		return Summary{}, doErr
	}
	return sum, err
}

// apply must run on the loop.
func (e *Engine) apply(gen uint64, batch []message.Message, origin Origin) (Summary, error) {
	if gen != e.epoch.Load() {
		e.logger.Debug("discarding stale batch", zap.String("origin", string(origin)), zap.Int("size", len(batch)))
		return Summary{}, ErrStale
	}
	next, sum := e.reconciler.Merge(e.store.Current(), batch, origin)
	if sum.Changed {
		e.store.Commit(next)
	}
	e.metrics.ObserveMerge(string(origin), sum.Changed, sum.Dropped, len(next))

	for _, c := range sum.Confirmed {
		if _, err := e.outbox.MarkConfirmed(c.ClientMsgID, c.ID); err != nil {
			e.logger.Debug("confirmation for untracked send", zap.String("client_msg_id", c.ClientMsgID))
		}
		e.bus.Emit(bus.KindConfirmed, c)
	}
	if sum.Changed {
		e.bus.Emit(bus.KindTimelineChanged, Change{Summary: sum, Len: len(next)})
	}
	return sum, nil
}

func (e *Engine) markLocal(gen uint64, id message.ID, s message.Status) error {
	var err error
	doErr := e.do(func() {
		if gen != e.epoch.Load() {
			err = ErrStale
			return
		}
		next, ok := e.reconciler.SetStatus(e.store.Current(), id, s)
		if !ok {
			return
		}
		e.store.Commit(next)
		e.bus.Emit(bus.KindTimelineChanged, Change{Summary: Summary{Origin: OriginOptimistic, Changed: true}, Len: len(next)})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// post queues op for the loop.
func (e *Engine) post(op func()) error {
	if e.state.Load() != stateRunning {
		return ErrClosed
	}
	select {
	case e.ops <- op:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// do runs op on the loop and waits for it.
func (e *Engine) do(op func()) error {
	finished := make(chan struct{})
	if err := e.post(func() { op(); close(finished) }); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) setState(s status.State) {
	if _, err := e.machine.Transition(s); err != nil {
		e.logger.Debug("ignoring state report", zap.Error(err))
	}
}

func (e *Engine) report(op string, err error) {
	e.logger.Warn("sync operation failed", zap.String("op", op), zap.Error(err))
	e.bus.Emit(bus.KindSyncError, ErrorReport{Op: op, Err: err})
}

func (e *Engine) oldestID() (message.ID, bool) { return e.store.OldestID() }

func (e *Engine) generation() uint64 { return e.epoch.Load() }

func (e *Engine) mergePage(gen uint64, batch []message.Message) (Summary, error) {
	return e.merge(gen, batch, OriginPagination)
}

// engineSink binds channel callbacks to the generation that started them.
type engineSink struct {
	e   *Engine
	gen uint64
}

func (s *engineSink) current() bool { return s.e.epoch.Load() == s.gen }

func (s *engineSink) Deliver(batch []message.Message) {
	err := s.e.post(func() {
		if _, err := s.e.apply(s.gen, batch, OriginLive); err != nil && !errors.Is(err, ErrStale) {
			s.e.report("deliver", err)
		}
	})
	if err != nil {
		s.e.logger.Debug("dropping delivery", zap.Error(err))
	}
}

func (s *engineSink) SetState(st status.State) {
	_ = s.e.post(func() {
		if s.current() {
			s.e.setState(st)
		}
	})
}

func (s *engineSink) Notice(text string) {
	if s.current() {
		s.e.bus.Emit(bus.KindConnNotice, text)
	}
}
