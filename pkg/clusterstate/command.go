package clusterstate

import (
	"context"

	"wrrouting/pkg/types"
)

// Command is a serialized state transition.
type Command struct {
	// Name describes the task in logs, e.g. "update_weighted_routing".
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

// Outcome reports the state version after a command was applied. Changed is
// false when the command left the state as it was.
type Outcome struct {
	Version types.Version
	Changed bool
}

// Executor computes the next state. Returning current unchanged marks a no-op;
// returning an error rejects the command without touching the state.
type Executor func(current *State, payload []byte) (*State, error)

// Committer submits commands to the commit facility. Commit returns after the
// command has been applied, or with the facility's error. It never retries.
type Committer interface {
	Commit(ctx context.Context, cmd Command) (Outcome, error)
}
