package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/coursemgmt/educhat/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. The connection manager
// is the only writer; everything else observes transitions via the bus.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the live channel is usable.
func (m *Machine) Online() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; the state is left unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.ConnStateChanged,
			Timestamp: time.Now(),
			Payload: Change{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// Change is the payload for connection state change events.
type Change struct {
	From State
	To   State
}
