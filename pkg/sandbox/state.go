package sandbox

import "fmt"

// State is the lifecycle state of a sandbox.
type State string

const (
	StateProvisioning  State = "provisioning"
	StateAwaitingReady State = "awaiting-ready"
	StateReady         State = "ready"
	StateInUse         State = "in-use"
	StateDestroying    State = "destroying"
	StateDestroyed     State = "destroyed"
	StateFailed        State = "failed"
)

// transitions lists the legal successor states for each state. Destroying is
// reachable from everywhere because teardown runs on every error path.
var transitions = map[State][]State{
	StateProvisioning:  {StateAwaitingReady, StateFailed, StateDestroying},
	StateAwaitingReady: {StateReady, StateFailed, StateDestroying},
	StateReady:         {StateInUse, StateDestroying},
	StateInUse:         {StateInUse, StateDestroying},
	StateDestroying:    {StateDestroyed},
	StateDestroyed:     {StateDestroying}, // idempotent destroy
	StateFailed:        {StateDestroying},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no tool call may be issued in this state.
func (s State) Terminal() bool {
	return s == StateDestroyed || s == StateFailed
}

func (s State) String() string { return string(s) }

// invalidTransitionError is returned by Sandbox.SetState on illegal moves.
func invalidTransitionError(from, to State) error {
	return fmt.Errorf("invalid sandbox state transition %s -> %s", from, to)
}
