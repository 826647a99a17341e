package metadata

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"wrrouting/pkg/wrr"
)

// MaxWeight is the largest weight a scheduler can order without overflow.
const MaxWeight = wrr.MaxWeight

// Weights is an attribute weight assignment: relative traffic share per value
// of one node attribute. A weight of 0 takes the value out of rotation.
type Weights struct {
	Attribute string
	Values    map[string]float64
}

// Equal compares attribute name and weight map structurally.
func (w Weights) Equal(other Weights) bool {
	return w.Attribute == other.Attribute && maps.Equal(w.Values, other.Values)
}

// Clone returns a deep copy.
func (w Weights) Clone() Weights {
	return Weights{Attribute: w.Attribute, Values: maps.Clone(w.Values)}
}

// Weight returns the weight assigned to an attribute value.
func (w Weights) Weight(value string) (float64, bool) {
	v, ok := w.Values[value]
	return v, ok
}

// Keys returns attribute values in lexical order.
func (w Weights) Keys() []string {
	var keys []string
	for k := range w.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate rejects assignments that cannot be committed. All-zero maps are
// rejected here so that no scheduler is ever built without a positive weight.
func (w Weights) Validate() error {
	if strings.TrimSpace(w.Attribute) == "" {
		return fmt.Errorf("%w: attribute name is empty", ErrMalformedWeights)
	}
	if len(w.Values) == 0 {
		return fmt.Errorf("%w: no weights for attribute [%s]", ErrMalformedWeights, w.Attribute)
	}

	positive := false
	for value, weight := range w.Values {
		if value == "" {
			return fmt.Errorf("%w: empty value for attribute [%s]", ErrMalformedWeights, w.Attribute)
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 || weight > MaxWeight {
			return fmt.Errorf("%w: [%s=%s] weight %v", ErrInvalidWeight, w.Attribute, value, weight)
		}
		if weight > 0 {
			positive = true
		}
	}
	if !positive {
		return fmt.Errorf("%w: attribute [%s]", ErrNoPositiveWeight, w.Attribute)
	}
	return nil
}

func (w Weights) String() string {
	var b strings.Builder
	b.WriteString(w.Attribute)
	b.WriteByte('{')
	for i, k := range w.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatWeight(w.Values[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// FormatWeight renders a weight the way the REST layer reports it: "1", "0.5".
func FormatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
