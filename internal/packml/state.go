// Package packml implements the ISA-TR88 PackML state machine shared by the
// orchestrator's controller and by each station-side core.
package packml

// State is one value of the closed PackML state set.
type State int

const (
	Idle State = iota
	Starting
	Execute
	Completing
	Complete
	Resetting
	Holding
	Held
	Unholding
	Suspending
	Suspended
	Unsuspending
	Aborting
	Aborted
	Clearing
	Stopping
	Stopped
)

var stateNames = map[State]string{
	Idle:         "IDLE",
	Starting:     "STARTING",
	Execute:      "EXECUTE",
	Completing:   "COMPLETING",
	Complete:     "COMPLETE",
	Resetting:    "RESETTING",
	Holding:      "HOLDING",
	Held:         "HELD",
	Unholding:    "UNHOLDING",
	Suspending:   "SUSPENDING",
	Suspended:    "SUSPENDED",
	Unsuspending: "UNSUSPENDING",
	Aborting:     "ABORTING",
	Aborted:      "ABORTED",
	Clearing:     "CLEARING",
	Stopping:     "STOPPING",
	Stopped:      "STOPPED",
}

var namesToState = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for s, n := range stateNames {
		m[n] = s
	}
	return m
}()

// String returns the PackMLState wire string for s.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseState returns the State for a PackMLState wire string.
func ParseState(s string) (State, bool) {
	st, ok := namesToState[s]
	return st, ok
}

// HasTree reports whether a controller in state s owns a live behavior-tree
// handle, per the data-model invariant that a tree exists iff the
// controller is in one of these states.
func HasTree(s State) bool {
	switch s {
	case Starting, Execute, Suspended, Completing, Complete, Stopping, Aborting:
		return true
	default:
		return false
	}
}

// OperationalStates is the set of states the sync-condition pseudo-operator
// equal("operational", "State") matches.
var OperationalStates = map[State]bool{
	Idle:       true,
	Starting:   true,
	Execute:    true,
	Completing: true,
	Complete:   true,
	Resetting:  true,
}
