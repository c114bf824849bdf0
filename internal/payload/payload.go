// ABOUTME: Ordered JSON attribute map used as the wire envelope container
// ABOUTME: Decodes and encodes JSON objects while preserving key order

package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	ErrMalformed = errors.New("malformed payload")
	ErrNotObject = errors.New("payload is not a json object")
)

// Payload is an ordered mapping of string keys to JSON values.
// The zero value is an empty payload ready for use.
type Payload struct {
	keys   []string
	values map[string]any
}

// New creates a payload from alternating key/value pairs.
func New(pairs ...any) *Payload {
	p := &Payload{}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		p.Set(key, pairs[i+1])
	}
	return p
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil || p.values == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (p *Payload) GetString(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether key is present, including explicit nulls.
func (p *Payload) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Set stores value under key. Existing keys keep their position.
func (p *Payload) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Remove deletes key from the payload.
func (p *Payload) Remove(key string) {
	if p.values == nil {
		return
	}
	if _, exists := p.values[key]; !exists {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Merge copies every attribute of other into p, overwriting existing keys.
func (p *Payload) Merge(other *Payload) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
}

// MergeMap copies attributes from an unordered map in sorted key order
// so the result stays deterministic.
func (p *Payload) MergeMap(attrs map[string]any) {
	for _, k := range sortedKeys(attrs) {
		p.Set(k, attrs[k])
	}
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of attributes.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// ToMap returns a shallow copy of the attributes.
func (p *Payload) ToMap() map[string]any {
	out := make(map[string]any, p.Len())
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out[k] = p.values[k]
	}
	return out
}

// Clone returns a shallow copy of p.
func (p *Payload) Clone() *Payload {
	c := &Payload{}
	c.Merge(p)
	return c
}

// MarshalJSON always serializes the current attribute state.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if p != nil {
		for i, k := range p.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(p.values[k])
			if err != nil {
				return nil, fmt.Errorf("failed to encode attribute %q: %w", k, err)
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the attributes with the decoded object.
func (p *Payload) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// MaxDepth bounds object and array nesting, matching encoding/json.
const MaxDepth = 10000

// Decode parses JSON object text into a payload.
// Nested objects decode to *Payload so their key order survives a round trip.
func Decode(data []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		// Still has to be valid JSON to count as "not an object".
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
		}
		return nil, ErrNotObject
	}

	p, err := decodeObject(dec, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	return p, nil
}

// Encode serializes p deterministically.
func Encode(p *Payload) ([]byte, error) {
	return p.MarshalJSON()
}

func decodeObject(dec *json.Decoder, depth int) (*Payload, error) {
	p := &Payload{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		p.Set(key, val)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return p, nil
}

func decodeArray(dec *json.Decoder, depth int) ([]any, error) {
	out := []any{}
	for dec.More() {
		val, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, err
	}
	return out, nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		if depth >= MaxDepth {
			return nil, fmt.Errorf("exceeded max nesting depth %d", MaxDepth)
		}
		switch v {
		case '{':
			return decodeObject(dec, depth+1)
		case '[':
			return decodeArray(dec, depth+1)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	default:
		return v, nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
