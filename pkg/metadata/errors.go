package metadata

import "errors"

var (
	ErrMalformedWeights = errors.New("malformed weights definition")
	ErrInvalidWeight    = errors.New("invalid weight")
	ErrNoPositiveWeight = errors.New("at least one weight must be positive")
	ErrUnknownCustom    = errors.New("unknown custom metadata type")
)
