package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting        State = "BOOTING"
	ConfigRequired State = "CONFIG_REQUIRED"
	Connecting     State = "CONNECTING"
	Syncing        State = "SYNCING"
	Ready          State = "READY"
	Reconnecting   State = "RECONNECTING"
	Degraded       State = "DEGRADED"
	Error          State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:        {ConfigRequired, Connecting, Error},
	ConfigRequired: {Connecting, Error},
	Connecting:     {Syncing, ConfigRequired, Reconnecting, Error},
	Syncing:        {Ready, Reconnecting, Degraded, Error},
	Ready:          {Reconnecting, Degraded, ConfigRequired, Error},
	Reconnecting:   {Connecting, Syncing, Degraded, Error},
	Degraded:       {Connecting, Reconnecting, Ready, Error},
	Error:          {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
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

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
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
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
