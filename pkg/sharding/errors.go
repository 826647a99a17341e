package sharding

import "errors"

var (
	ErrRoutingRequired = errors.New("routing is required for a routing-partitioned index")
	ErrInvalidIndex    = errors.New("invalid index metadata")
)
