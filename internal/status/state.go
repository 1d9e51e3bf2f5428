package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/groupchat/internal/bus"
)

// State is the connectivity of the live channel as seen by the synchronizer.
type State string

const (
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
)

// validTransitions lists the allowed moves. Poll transports never enter
// Connecting and jump straight between Connected and Disconnected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Connected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks the connection state and publishes every change.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state. Moving to the current state is a
// no-op and reports changed=false.
func (m *Machine) Transition(to State) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return false, nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return false, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:      bus.KindConnStateChanged,
		Timestamp: time.Now(),
		Payload:   StatusChange{From: from, To: to},
	})
	return true, nil
}

// StatusChange is the payload for conn.state_changed events.
type StatusChange struct {
	From State
	To   State
}
