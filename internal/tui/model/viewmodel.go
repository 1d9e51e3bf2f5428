// Package model adapts the synchronizer to what the views render.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/channel"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/outbox"
	"github.com/matheus3301/groupchat/internal/status"
	intsync "github.com/matheus3301/groupchat/internal/sync"
)

// Engine is the synchronizer surface the TUI drives.
type Engine interface {
	Messages() []message.Message
	Send(ctx context.Context, text string) (message.Message, error)
	Retry(ctx context.Context, id message.ID) (message.Message, error)
	LoadOlder(ctx context.Context) (intsync.PageResult, error)
	ConnectionState() status.State
	ClientID() string
	Mode() channel.Mode
	Bus() *bus.Bus
	Failed() []outbox.Entry
	Exhausted() bool
	Reset() error
}

// Snapshot is everything one render needs.
type Snapshot struct {
	Messages     []message.Message
	State        status.State
	ClientID     string
	Mode         channel.Mode
	Exhausted    bool
	LoadingOlder bool
	Failed       int
}

// ViewModel turns bus events into refresh signals and flash notices.
type ViewModel struct {
	engine  Engine
	Flash   Flash
	loading atomic.Bool

	refreshCh chan struct{}
}

func NewViewModel(e Engine) *ViewModel {
	return &ViewModel{engine: e, refreshCh: make(chan struct{}, 1)}
}

// RefreshCh signals that a new Snapshot is worth rendering.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Run follows the engine's bus until ctx is done.
func (vm *ViewModel) Run(ctx context.Context) {
	events, unsubscribe := vm.engine.Bus().Subscribe("", 64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			vm.handle(evt)
		}
	}
}

func (vm *ViewModel) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConnNotice:
		if text, ok := evt.Payload.(string); ok {
			vm.Flash.Info(text)
		}
	case bus.KindSendFailed:
		if f, ok := evt.Payload.(outbox.SendFailure); ok {
			vm.Flash.Warn(fmt.Sprintf("send failed: %v (Ctrl-R to retry)", f.Err))
		}
	case bus.KindSyncError:
		if rep, ok := evt.Payload.(intsync.ErrorReport); ok {
			vm.Flash.Err(fmt.Errorf("%s: %w", rep.Op, rep.Err))
		}
	case bus.KindConnStateChanged:
		if ch, ok := evt.Payload.(status.StatusChange); ok && ch.To == status.Disconnected && ch.From == status.Connected {
			vm.Flash.Warn("disconnected from server")
		}
	}
	vm.signalRefresh()
}

// Snapshot reads the engine state.
func (vm *ViewModel) Snapshot() Snapshot {
	return Snapshot{
		Messages:     vm.engine.Messages(),
		State:        vm.engine.ConnectionState(),
		ClientID:     vm.engine.ClientID(),
		Mode:         vm.engine.Mode(),
		Exhausted:    vm.engine.Exhausted(),
		LoadingOlder: vm.loading.Load(),
		Failed:       len(vm.engine.Failed()),
	}
}

// Send submits composer text. Failures surface as flash notices.
func (vm *ViewModel) Send(ctx context.Context, text string) {
	if _, err := vm.engine.Send(ctx, text); err != nil && !errors.Is(err, message.ErrEmptyText) {
		vm.Flash.Err(fmt.Errorf("send: %w", err))
		vm.signalRefresh()
	}
}

// LoadOlder fetches the previous page unless one is already loading or
// history is exhausted.
func (vm *ViewModel) LoadOlder(ctx context.Context) {
	if vm.engine.Exhausted() {
		vm.Flash.Info("start of conversation")
		vm.signalRefresh()
		return
	}
	if !vm.loading.CompareAndSwap(false, true) {
		return
	}
	vm.signalRefresh()
	defer func() {
		vm.loading.Store(false)
		vm.signalRefresh()
	}()

	res, err := vm.engine.LoadOlder(ctx)
	switch {
	case errors.Is(err, intsync.ErrStale):
	case err != nil:
		vm.Flash.Err(fmt.Errorf("load older: %w", err))
	case res.Loaded:
		vm.Flash.Info(fmt.Sprintf("loaded %d older messages", res.Count))
	case vm.engine.Exhausted():
		vm.Flash.Info("start of conversation")
	}
}

// RetryLatest re-sends the most recent failed message.
func (vm *ViewModel) RetryLatest(ctx context.Context) {
	failed := vm.engine.Failed()
	if len(failed) == 0 {
		vm.Flash.Info("nothing to retry")
		vm.signalRefresh()
		return
	}
	latest := failed[len(failed)-1]
	if _, err := vm.engine.Retry(ctx, latest.LocalID); err != nil {
		vm.Flash.Err(fmt.Errorf("retry: %w", err))
		vm.signalRefresh()
		return
	}
	vm.Flash.Info("message re-sent")
	vm.signalRefresh()
}

// Reset clears the timeline and reconnects.
func (vm *ViewModel) Reset() {
	if err := vm.engine.Reset(); err != nil {
		vm.Flash.Err(fmt.Errorf("reset: %w", err))
	} else {
		vm.Flash.Info("timeline reset")
	}
	vm.signalRefresh()
}
