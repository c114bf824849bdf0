// ABOUTME: Param validation capability injected into typed route handlers
// ABOUTME: JSON Schema validators report per-field failures as Invalid params

package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/harper/rpcd/internal/errors"
)

// Validator checks raw params before a handler sees them. Failures should
// be *errors.ResponseError with code -32602.
type Validator interface {
	Validate(params json.RawMessage) error
}

// Func adapts a function to a Validator.
type Func func(params json.RawMessage) error

func (f Func) Validate(params json.RawMessage) error {
	return f(params)
}

// ParamsField is the key used for failures that concern params as a whole.
const ParamsField = "params"

// Schema validates object params against a JSON Schema, property by
// property, so each failure can be attributed to its field.
type Schema struct {
	schema     *jsonschema.Schema
	properties map[string]*jsonschema.Resolved
}

// NewSchema resolves every property schema of s up front.
func NewSchema(s *jsonschema.Schema) (*Schema, error) {
	if s == nil {
		return nil, fmt.Errorf("validation: nil schema")
	}
	if s.Type != "" && s.Type != "object" {
		return nil, fmt.Errorf("validation: params schema must be an object schema, got %q", s.Type)
	}
	v := &Schema{schema: s, properties: make(map[string]*jsonschema.Resolved, len(s.Properties))}
	for name, prop := range s.Properties {
		resolved, err := prop.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("validation: property %q: %w", name, err)
		}
		v.properties[name] = resolved
	}
	return v, nil
}

// MustSchema is NewSchema for schemas known at compile time.
func MustSchema(s *jsonschema.Schema) *Schema {
	v, err := NewSchema(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks object params. A positional array holding a single
// object is validated as that object.
func (v *Schema) Validate(params json.RawMessage) error {
	fields := make(map[string][]string)

	var object map[string]any
	if len(params) == 0 || string(params) == "null" {
		object = map[string]any{}
	} else if err := json.Unmarshal(SingleObject(params), &object); err != nil {
		fields[ParamsField] = []string{"must be an object"}
		return errors.NewInvalidParamsError(fields)
	}

	for _, name := range v.schema.Required {
		if _, ok := object[name]; !ok {
			fields[name] = append(fields[name], "is required")
		}
	}

	for _, name := range sortedKeys(v.properties) {
		value, ok := object[name]
		if !ok {
			continue
		}
		if err := v.properties[name].Validate(value); err != nil {
			fields[name] = append(fields[name], err.Error())
		}
	}

	if len(fields) > 0 {
		return errors.NewInvalidParamsError(fields)
	}
	return nil
}

// SingleObject returns the element of a one-element array when that
// element is an object, and params unchanged otherwise.
func SingleObject(params json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(params)
	if !bytes.HasPrefix(trimmed, []byte("[")) {
		return params
	}
	var positional []json.RawMessage
	if json.Unmarshal(trimmed, &positional) != nil || len(positional) != 1 {
		return params
	}
	if !bytes.HasPrefix(bytes.TrimSpace(positional[0]), []byte("{")) {
		return params
	}
	return positional[0]
}

// Run applies validators in order and stops at the first failure.
func Run(params json.RawMessage, validators ...Validator) error {
	for _, v := range validators {
		if v == nil {
			continue
		}
		if err := v.Validate(params); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]*jsonschema.Resolved) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
