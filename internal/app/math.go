// ABOUTME: Typed math handlers bound with JSON Schema validated params
// ABOUTME: Division by zero is reported as an implementation-defined server error

package app

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/validation"
)

// DivisionByZero is the server error code returned by math.divide.
const DivisionByZero = -32001

type operands struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

var operandsSchema = validation.MustSchema(&jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"a": {Type: "number"},
		"b": {Type: "number"},
	},
	Required: []string{"a", "b"},
})

func add(ctx context.Context, p operands) (float64, error) {
	return p.A + p.B, nil
}

func divide(ctx context.Context, p operands) (float64, error) {
	if p.B == 0 {
		return 0, errors.NewServerError(DivisionByZero, "Division by zero", map[string]any{"a": p.A})
	}
	return p.A / p.B, nil
}
