package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
)

// State represents the session state of the daemon.
type State string

const (
	Booting    State = "BOOTING"
	SignedOut  State = "SIGNED_OUT"
	SigningIn  State = "SIGNING_IN"
	Ready      State = "READY"
	Refreshing State = "REFRESHING"
	Error      State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:    {SignedOut, Error},
	SignedOut:  {SigningIn, Error},
	SigningIn:  {Ready, SignedOut, Error},
	Ready:      {Refreshing, SignedOut, Error},
	Refreshing: {Ready, SignedOut, Error},
	Error:      {Booting, SignedOut},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// In reports whether the current state is one of states.
func (m *Machine) In(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// SignedIn reports whether the session holds credentials.
func (m *Machine) SignedIn() bool {
	return m.In(Ready, Refreshing)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}

	from := m.current
	m.current = to

	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
