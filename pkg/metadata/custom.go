package metadata

import (
	"fmt"
	"sync"

	"wrrouting/pkg/encoding/tlv"
)

// Custom is a named section of replicated cluster metadata. Implementations
// are immutable values; a change is always a new value.
type Custom interface {
	Type() string
	Equal(other Custom) bool
}

// Codec converts one custom type to and from its binary form.
type Codec struct {
	Encode func(c Custom) (tlv.Value, error)
	Decode func(v tlv.Value) (Custom, error)
}

// Registry maps stable type tags to codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// DefaultRegistry knows every custom type defined in this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeWeightedRouting, weightedRoutingCodec)
	return r
}

func (r *Registry) Register(tag string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[tag] = codec
}

func (r *Registry) codec(tag string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[tag]
	if !ok {
		return Codec{}, fmt.Errorf("%w: %q", ErrUnknownCustom, tag)
	}
	return c, nil
}

const (
	fieldTag  = 1
	fieldBody = 2
)

// Encode writes the type tag followed by the custom's own encoding.
func (r *Registry) Encode(c Custom) ([]byte, error) {
	codec, err := r.codec(c.Type())
	if err != nil {
		return nil, err
	}
	body, err := codec.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Type(), err)
	}
	return tlv.Encode(tlv.Message(
		tlv.Field{Number: fieldTag, Value: tlv.String(c.Type())},
		tlv.Field{Number: fieldBody, Value: body},
	))
}

// Decode reads a tagged custom and dispatches on its tag.
func (r *Registry) Decode(data []byte) (Custom, error) {
	v, _, err := tlv.Decode(data)
	if err != nil {
		return nil, err
	}
	tag, ok := v.Lookup(fieldTag)
	if !ok || tag.Type != tlv.TypeString {
		return nil, &tlv.DecodeError{Message: "custom metadata without type tag"}
	}
	body, ok := v.Lookup(fieldBody)
	if !ok {
		return nil, &tlv.DecodeError{Message: "custom metadata without body"}
	}

	codec, err := r.codec(tag.String)
	if err != nil {
		return nil, err
	}
	c, err := codec.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag.String, err)
	}
	return c, nil
}
