package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseWeights parses a write request of the form
//
//	{ "zone": { "zone-a": 1, "zone-b": "2", "zone-c": 0 } }
//
// Weights may be JSON numbers or numeric strings; they are converted to
// float64 here and nowhere else. The result is validated.
func ParseWeights(body []byte) (Weights, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Weights{}, fmt.Errorf("%w: %v", ErrMalformedWeights, err)
	}
	if len(top) != 1 {
		return Weights{}, fmt.Errorf("%w: expected exactly one attribute, got %d", ErrMalformedWeights, len(top))
	}

	var w Weights
	for attr, raw := range top {
		w.Attribute = attr

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var inner map[string]any
		if err := dec.Decode(&inner); err != nil || inner == nil {
			return Weights{}, fmt.Errorf("%w: attribute [%s] must be an object", ErrMalformedWeights, attr)
		}

		w.Values = make(map[string]float64, len(inner))
		for value, rawWeight := range inner {
			weight, err := parseWeight(rawWeight)
			if err != nil {
				return Weights{}, fmt.Errorf("%w: [%s=%s]: %v", ErrInvalidWeight, attr, value, err)
			}
			w.Values[value] = weight
		}
	}

	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

func parseWeight(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported weight type %T", v)
	}
}

// AwarenessResponse is the cluster-level read shape:
//
//	{ "awareness": { "zone": { "zone-a": 1, "zone-b": 2 } } }
type AwarenessResponse struct {
	Awareness map[string]map[string]float64 `json:"awareness,omitempty"`
}

func NewAwarenessResponse(w Weights) AwarenessResponse {
	return AwarenessResponse{
		Awareness: map[string]map[string]float64{w.Attribute: w.Clone().Values},
	}
}

// WeightsAsStrings renders weights the way per-attribute reads report them.
func WeightsAsStrings(w Weights) map[string]string {
	out := make(map[string]string, len(w.Values))
	for k, v := range w.Values {
		out[k] = FormatWeight(v)
	}
	return out
}
