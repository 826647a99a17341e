package raftadapter

import (
	"github.com/google/uuid"

	"wrrouting/pkg/clusterstate"
)

// Cmd is the payload of one raft log entry. ID lets the proposing node match
// the applied entry to its waiting caller.
type Cmd struct {
	ID      uuid.UUID            `json:"id"`
	Command clusterstate.Command `json:"command"`
}

func NewCmd(c clusterstate.Command) Cmd {
	return Cmd{
		ID:      uuid.New(),
		Command: c,
	}
}
