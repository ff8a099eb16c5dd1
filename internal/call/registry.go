package call

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

var (
	ErrUnknownTag = errors.New("unknown call tag")
	ErrMalformed  = errors.New("malformed call record")
)

// DecodeFunc rebuilds one variant from its persisted record.
type DecodeFunc func(rec Record) Call

// Registry maps tags to decoders. Variants are registered explicitly.
type Registry struct {
	decoders map[Tag]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Tag]DecodeFunc)}
}

// DefaultRegistry knows every variant defined in this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TagEvent, func(rec Record) Call {
		return &Event{Record: rec}
	})
	r.Register(TagConversionEvent, func(rec Record) Call {
		return &ConversionEvent{Event: Event{Record: rec}}
	})
	r.Register(TagPageVisit, func(rec Record) Call {
		return &PageVisit{ConversionEvent: ConversionEvent{Event: Event{Record: rec}}}
	})
	r.Register(TagCustomUserID, func(rec Record) Call {
		return &CustomUserID{Record: rec}
	})
	return r
}

func (r *Registry) Register(tag Tag, fn DecodeFunc) {
	r.decoders[tag] = fn
}

type envelope struct {
	Type Tag `json:"type"`
	*Record
}

// Marshal encodes c with its tag so Decode can rebuild the same variant.
func Marshal(c Call) (json.RawMessage, error) {
	if c == nil || c.Base() == nil {
		return nil, fmt.Errorf("%w: nil call", ErrMalformed)
	}
	data, err := json.Marshal(envelope{Type: c.Tag(), Record: c.Base()})
	if err != nil {
		return nil, fmt.Errorf("marshal %s call: %w", c.Tag(), err)
	}
	return data, nil
}

// Decode rebuilds a call from Marshal output. Numbers decode as json.Number
// so integers keep their exact text.
func (r *Registry) Decode(raw []byte) (Call, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}
	tag := Tag(gjson.GetBytes(raw, "type").String())
	fn, ok := r.decoders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Params == nil {
		rec.Params = map[string]any{}
	}
	return fn(rec), nil
}

func parseNumber(s string) (json.Number, bool) {
	if !json.Valid([]byte(s)) {
		return "", false
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", false
	}
	return json.Number(s), true
}
