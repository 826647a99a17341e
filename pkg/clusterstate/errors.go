package clusterstate

import "errors"

var (
	ErrUnknownCommand   = errors.New("unknown command kind")
	ErrCommitterStopped = errors.New("committer stopped")
)
