// Package consolidation merges shard files into deduplicated hourly archives.
package consolidation

import "fmt"

// State is a step of one consolidation invocation.
type State int

const (
	StateSelectWindow State = iota
	StateListShards
	StateSkip
	StateLoadExisting
	StateMerge
	StatePersist
	StateDeleteShards
	StateStop
)

var stateNames = [...]string{
	StateSelectWindow: "SELECT_WINDOW",
	StateListShards:   "LIST_SHARDS",
	StateSkip:         "SKIP",
	StateLoadExisting: "LOAD_EXISTING",
	StateMerge:        "MERGE",
	StatePersist:      "PERSIST",
	StateDeleteShards: "DELETE_SHARDS",
	StateStop:         "STOP",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// MarshalText renders the state by name in reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("consolidation: unknown state %q", text)
}

// Outcome is the result of executing a state.
type Outcome int

const (
	// OutcomeOK means the step succeeded.
	OutcomeOK Outcome = iota
	// OutcomeEmpty means there was nothing to do: no candidate hours, or
	// no shards in the current hour.
	OutcomeEmpty
	// OutcomeExhausted means the window has no further hours.
	OutcomeExhausted
	// OutcomeFailed means the step returned an error.
	OutcomeFailed
)

// Next returns the state following s given its outcome. Any failure stops the
// invocation, and so does finishing the first hour that had shards.
func Next(s State, o Outcome) State {
	if o == OutcomeFailed {
		return StateStop
	}
	switch s {
	case StateSelectWindow:
		if o == OutcomeEmpty {
			return StateStop
		}
		return StateListShards
	case StateListShards:
		if o == OutcomeEmpty {
			return StateSkip
		}
		return StateLoadExisting
	case StateSkip:
		if o == OutcomeExhausted {
			return StateStop
		}
		return StateListShards
	case StateLoadExisting:
		return StateMerge
	case StateMerge:
		return StatePersist
	case StatePersist:
		return StateDeleteShards
	default:
		return StateStop
	}
}
