package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zoneWeights() Weights {
	return Weights{Attribute: "zone", Values: map[string]float64{"zone-a": 1, "zone-b": 2, "zone-c": 0}}
}

func TestParseWeights_NumbersAndStrings(t *testing.T) {
	w, err := ParseWeights([]byte(`{"zone": {"zone-a": 1, "zone-b": "2", "zone-c": "0.5"}}`))
	require.NoError(t, err)

	assert.Equal(t, "zone", w.Attribute)
	assert.Equal(t, map[string]float64{"zone-a": 1, "zone-b": 2, "zone-c": 0.5}, w.Values)
}

func TestParseWeights_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"zone":`, ErrMalformedWeights},
		{"no attribute", `{}`, ErrMalformedWeights},
		{"two attributes", `{"zone": {"a": 1}, "rack": {"r1": 1}}`, ErrMalformedWeights},
		{"missing nested object", `{"zone": 1}`, ErrMalformedWeights},
		{"null nested object", `{"zone": null}`, ErrMalformedWeights},
		{"empty map", `{"zone": {}}`, ErrMalformedWeights},
		{"non numeric string", `{"zone": {"a": "heavy"}}`, ErrInvalidWeight},
		{"boolean", `{"zone": {"a": true}}`, ErrInvalidWeight},
		{"negative", `{"zone": {"a": -1, "b": 1}}`, ErrInvalidWeight},
		{"above maximum", `{"zone": {"a": 1e19, "b": 1}}`, ErrInvalidWeight},
		{"above maximum as string", `{"zone": {"a": "10000000000000", "b": 0.000001}}`, ErrInvalidWeight},
		{"all zero", `{"zone": {"a": 0, "b": "0"}}`, ErrNoPositiveWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWeights([]byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWeights_EqualIsStructural(t *testing.T) {
	a := zoneWeights()
	b := Weights{Attribute: "zone", Values: map[string]float64{"zone-c": 0, "zone-b": 2, "zone-a": 1}}
	assert.True(t, a.Equal(b))

	b.Values["zone-c"] = 1
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(Weights{Attribute: "rack", Values: a.Values}))
}

func TestRegistry_RoundTrip(t *testing.T) {
	reg := DefaultRegistry()
	in := NewWeightedRouting(zoneWeights())

	data, err := reg.Encode(in)
	require.NoError(t, err)

	out, err := reg.Decode(data)
	require.NoError(t, err)
	require.IsType(t, &WeightedRouting{}, out)
	assert.True(t, in.Equal(out))
	assert.Equal(t, zoneWeights(), out.(*WeightedRouting).Weights())
}

func TestRegistry_UnknownTag(t *testing.T) {
	data, err := DefaultRegistry().Encode(NewWeightedRouting(zoneWeights()))
	require.NoError(t, err)

	_, err = NewRegistry().Decode(data)
	require.ErrorIs(t, err, ErrUnknownCustom)
}

func TestWeightedRouting_IsolatedFromCaller(t *testing.T) {
	w := zoneWeights()
	m := NewWeightedRouting(w)
	w.Values["zone-a"] = 100

	got, _ := m.Weight("zone-a")
	assert.Equal(t, 1.0, got)

	copied := m.Weights()
	copied.Values["zone-b"] = 100
	got, _ = m.Weight("zone-b")
	assert.Equal(t, 2.0, got)
}

func TestDigest_IndependentOfInsertionOrder(t *testing.T) {
	a := Weights{Attribute: "zone", Values: map[string]float64{}}
	b := Weights{Attribute: "zone", Values: map[string]float64{}}
	for _, k := range []string{"x", "y", "z"} {
		a.Values[k] = 1
	}
	for _, k := range []string{"z", "y", "x"} {
		b.Values[k] = 1
	}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	b.Values["x"] = 2
	dc, err := Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestAwarenessResponse(t *testing.T) {
	resp := NewAwarenessResponse(zoneWeights())
	assert.Equal(t, map[string]map[string]float64{"zone": {"zone-a": 1, "zone-b": 2, "zone-c": 0}}, resp.Awareness)
	assert.Equal(t, map[string]string{"zone-a": "1", "zone-b": "2", "zone-c": "0"}, WeightsAsStrings(zoneWeights()))
}
