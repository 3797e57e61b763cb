package conversation

import (
	"fmt"
	"sync"
)

// State is the conversational phase of one call.
type State string

const (
	StateIdle       State = "IDLE"
	StateListening  State = "LISTENING"
	StateProcessing State = "PROCESSING"
	StateSpeaking   State = "SPEAKING"
)

// validTransitions is the whole state machine. StateIdle is reachable from
// anywhere (exit word, call end) and is therefore not listed per-state.
var validTransitions = map[State][]State{
	StateIdle:       {StateListening},
	StateListening:  {StateProcessing},
	StateProcessing: {StateListening, StateSpeaking},
	StateSpeaking:   {StateListening},
}

// FSM guards call-state transitions. Transitions are atomic relative to the
// session-owning logic.
type FSM struct {
	mu    sync.Mutex
	state State
}

func NewFSM() *FSM {
	return &FSM{state: StateIdle}
}

func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves to the target state, rejecting edges not in the table.
func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == to {
		return nil
	}
	if to == StateIdle {
		f.state = StateIdle
		return nil
	}
	for _, allowed := range validTransitions[f.state] {
		if allowed == to {
			f.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", f.state, to)
}

// Restore force-sets the state when rehydrating a session from the store.
func (f *FSM) Restore(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}
