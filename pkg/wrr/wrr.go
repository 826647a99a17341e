// Package wrr implements classic weighted round robin selection.
//
// A Scheduler walks its entities in a circle while a threshold ("current
// weight") decays from the maximum weight by the GCD of all weights on every
// wrap. An entity is emitted whenever its weight reaches the threshold, so over
// one cycle each entity is emitted in proportion to its weight and zero-weight
// entities are never emitted. Position and threshold survive between calls,
// which keeps long-run ratios exact even when callers take one item at a time.
package wrr

import (
	"fmt"
	"math"
)

const (
	// maxScale bounds the decimal scaling applied to fractional weights.
	maxScale = 6
	epsilon  = 1e-9

	// MaxWeight keeps every weight scaled by 10^maxScale well inside int64.
	MaxWeight = 1e9
)

// Entity is a weighted item.
type Entity[T any] struct {
	Weight float64
	Target T
}

type options struct {
	position int
}

// Option configures a Scheduler.
type Option func(*options)

// WithPosition sets the index of the entity treated as selected last, so the
// first cycle starts right after it.
func WithPosition(last int) Option {
	return func(o *options) {
		o.position = last
	}
}

// Scheduler is not safe for concurrent use.
type Scheduler[T any] struct {
	entities []Entity[T]
	weights  []int64 // weights scaled to integers

	max      int64
	gcd      int64
	cycleLen int

	position int
	current  int64
}

// New validates the weights and builds a scheduler. An empty entity list is
// allowed and yields empty cycles; a non-empty list needs at least one
// strictly positive weight, otherwise the walk could never emit anything.
func New[T any](entities []Entity[T], opts ...Option) (*Scheduler[T], error) {
	o := options{position: -1}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Scheduler[T]{
		entities: append([]Entity[T](nil), entities...),
		position: o.position,
	}
	if len(entities) == 0 {
		return s, nil
	}
	if s.position < -1 || s.position >= len(entities) {
		s.position = -1
	}

	integral := true
	for i, e := range entities {
		if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) || e.Weight < 0 {
			return nil, fmt.Errorf("%w: entity %d has weight %v", ErrNegativeWeight, i, e.Weight)
		}
		if e.Weight > MaxWeight {
			return nil, fmt.Errorf("%w: entity %d has weight %v", ErrWeightTooLarge, i, e.Weight)
		}
		if !isIntegral(e.Weight) {
			integral = false
		}
	}

	scale := decimalScale(entities)
	s.weights = make([]int64, len(entities))
	var total int64
	for i, e := range entities {
		w := int64(math.Round(e.Weight * scale))
		if total > math.MaxInt64-w {
			return nil, fmt.Errorf("%w: total of %d entities overflows", ErrWeightTooLarge, len(entities))
		}
		s.weights[i] = w
		total += w
		if w > s.max {
			s.max = w
		}
		s.gcd = gcd(s.gcd, w)
	}
	if s.max == 0 {
		return nil, ErrNoPositiveWeight
	}

	if s.position >= 0 {
		// resuming mid-pass: start at the top threshold
		s.current = s.max
	}

	if integral {
		s.cycleLen = int(total)
	} else {
		// fractional weights: the shortest cycle with exact ratios
		s.cycleLen = int(total / s.gcd)
	}
	return s, nil
}

// Len returns the number of entities, including zero-weight ones.
func (s *Scheduler[T]) Len() int {
	return len(s.entities)
}

// CycleLen returns the number of items one Cycle emits.
func (s *Scheduler[T]) CycleLen() int {
	return s.cycleLen
}

// Next emits the next entity of the sequence. It returns false only for an
// empty scheduler.
func (s *Scheduler[T]) Next() (Entity[T], bool) {
	n := len(s.entities)
	switch n {
	case 0:
		return Entity[T]{}, false
	case 1:
		return s.entities[0], true
	}

	for {
		s.position = (s.position + 1) % n
		if s.position == 0 {
			s.current -= s.gcd
			if s.current <= 0 {
				s.current = s.max
			}
		}
		if w := s.weights[s.position]; w > 0 && w >= s.current {
			return s.entities[s.position], true
		}
	}
}

// Cycle emits one full cycle and keeps the cursor where it stopped.
func (s *Scheduler[T]) Cycle() []Entity[T] {
	switch len(s.entities) {
	case 0:
		return nil
	case 1:
		return []Entity[T]{s.entities[0]}
	}

	out := make([]Entity[T], 0, s.cycleLen)
	for len(out) < s.cycleLen {
		e, _ := s.Next()
		out = append(out, e)
	}
	return out
}

// Targets is a convenience over Cycle that drops the weights.
func (s *Scheduler[T]) Targets() []T {
	cycle := s.Cycle()
	out := make([]T, len(cycle))
	for i, e := range cycle {
		out[i] = e.Target
	}
	return out
}

// decimalScale finds the smallest power of ten that makes every weight an
// integer. Weights that stay fractional after maxScale digits are rounded.
func decimalScale[T any](entities []Entity[T]) float64 {
	scale := 1.0
	for k := 0; k <= maxScale; k++ {
		ok := true
		for _, e := range entities {
			if !isIntegral(e.Weight * scale) {
				ok = false
				break
			}
		}
		if ok {
			return scale
		}
		if k < maxScale {
			scale *= 10
		}
	}
	return scale
}

func isIntegral(f float64) bool {
	return math.Abs(f-math.Round(f)) < epsilon*math.Max(1, math.Abs(f))
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
