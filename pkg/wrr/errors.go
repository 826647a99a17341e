package wrr

import "errors"

var (
	ErrNoPositiveWeight = errors.New("wrr: no entity has a positive weight")
	ErrNegativeWeight   = errors.New("wrr: weight must be a finite non-negative number")
	ErrWeightTooLarge   = errors.New("wrr: weight exceeds the supported maximum")
)
