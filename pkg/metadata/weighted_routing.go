package metadata

import (
	"fmt"

	"wrrouting/pkg/encoding/tlv"
)

// TypeWeightedRouting tags the weighted routing section of cluster metadata.
const TypeWeightedRouting = "weighted_shard_routing"

// WeightedRouting is the cluster-wide weight assignment. At most one exists in
// the cluster state and it is only ever replaced as a whole.
type WeightedRouting struct {
	weights Weights
}

// NewWeightedRouting takes a private copy of w.
func NewWeightedRouting(w Weights) *WeightedRouting {
	return &WeightedRouting{weights: w.Clone()}
}

func (m *WeightedRouting) Type() string { return TypeWeightedRouting }

// Weights returns a copy of the assignment.
func (m *WeightedRouting) Weights() Weights {
	return m.weights.Clone()
}

func (m *WeightedRouting) Attribute() string {
	return m.weights.Attribute
}

func (m *WeightedRouting) Weight(value string) (float64, bool) {
	return m.weights.Weight(value)
}

func (m *WeightedRouting) Equal(other Custom) bool {
	o, ok := other.(*WeightedRouting)
	if !ok {
		return false
	}
	if m == nil || o == nil {
		return m == o
	}
	return m.weights.Equal(o.weights)
}

func (m *WeightedRouting) String() string {
	return "weighted_routing" + m.weights.String()
}

const (
	fieldAttribute = 1
	fieldWeights   = 2

	fieldValue  = 1
	fieldWeight = 2
)

var weightedRoutingCodec = Codec{
	Encode: encodeWeightedRouting,
	Decode: decodeWeightedRouting,
}

// Entries are written in key order; readers must not rely on it.
func encodeWeightedRouting(c Custom) (tlv.Value, error) {
	m, ok := c.(*WeightedRouting)
	if !ok {
		return tlv.Value{}, fmt.Errorf("unexpected custom %T", c)
	}

	entries := make([]tlv.Value, 0, len(m.weights.Values))
	for _, k := range m.weights.Keys() {
		entries = append(entries, tlv.Message(
			tlv.Field{Number: fieldValue, Value: tlv.String(k)},
			tlv.Field{Number: fieldWeight, Value: tlv.Float64(m.weights.Values[k])},
		))
	}
	return tlv.Message(
		tlv.Field{Number: fieldAttribute, Value: tlv.String(m.weights.Attribute)},
		tlv.Field{Number: fieldWeights, Value: tlv.List(entries...)},
	), nil
}

func decodeWeightedRouting(v tlv.Value) (Custom, error) {
	attr, ok := v.Lookup(fieldAttribute)
	if !ok || attr.Type != tlv.TypeString {
		return nil, &tlv.DecodeError{Message: "weighted routing without attribute"}
	}
	list, ok := v.Lookup(fieldWeights)
	if !ok || list.Type != tlv.TypeList {
		return nil, &tlv.DecodeError{Message: "weighted routing without weights"}
	}

	w := Weights{Attribute: attr.String, Values: make(map[string]float64, len(list.List))}
	for _, entry := range list.List {
		key, kok := entry.Lookup(fieldValue)
		weight, wok := entry.Lookup(fieldWeight)
		if !kok || !wok || key.Type != tlv.TypeString || weight.Type != tlv.TypeFloat64 {
			return nil, &tlv.DecodeError{Message: "malformed weight entry"}
		}
		w.Values[key.String] = weight.Float64
	}
	return &WeightedRouting{weights: w}, nil
}
