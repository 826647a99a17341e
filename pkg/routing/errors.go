package routing

import "errors"

var (
	ErrIndexNotFound     = errors.New("index not found")
	ErrUnknownPreference = errors.New("unknown preference")
	ErrNoWeightedCopies  = errors.New("no shard copy has a positive weight")
	ErrNoMatchingNodes   = errors.New("no shard copy on nodes matching preference")
)
