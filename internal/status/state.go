// Package status tracks the per-account session state machine.
package status

import (
	"fmt"
	"slices"
	"sync"

	"courier/internal/bus"
)

// State is a session runtime state.
//
// Disconnection does not reset the session: profile and caches persist,
// and reconnecting re-enters Connected after the channel re-announces
// the identity.
type State string

const (
	Unregistered State = "UNREGISTERED"
	Registering  State = "REGISTERING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
)

// validTransitions defines allowed state transitions. A rejected
// registration keeps the session in Registering, so no edge leaves it
// for errors. Switching accounts re-enters Registering (onboarding
// incomplete) or Disconnected (registered, channel not yet confirmed);
// Unregistered edges remain for tearing a session back down.
var validTransitions = map[State][]State{
	Unregistered: {Registering, Disconnected},
	Registering:  {Connected, Unregistered, Disconnected},
	Connected:    {Disconnected, Registering, Unregistered},
	Disconnected: {Connected, Registering, Unregistered},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Unregistered.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Unregistered, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current
// state is a no-op; invalid moves return an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Now("session.state_changed", Change{From: from, To: to}))
	}
	return nil
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}
