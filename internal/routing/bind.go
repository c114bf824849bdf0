// ABOUTME: Adapts typed handler functions into route actions
// ABOUTME: Validates and decodes params before the handler runs

package routing

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/validation"
)

// Bind turns fn into a HandlerFunc. Params are run through validators and
// then decoded into P. A single-element positional array is unwrapped when
// P cannot be decoded from the array itself.
func Bind[P any, R any](fn func(ctx context.Context, params P) (R, error), validators ...validation.Validator) HandlerFunc {
	return func(ctx context.Context, req *jsonrpc.Request) (any, error) {
		raw, err := req.RawParams()
		if err != nil {
			return nil, errors.NewInvalidParamsError(map[string][]string{
				validation.ParamsField: {err.Error()},
			})
		}
		if err := validation.Run(raw, validators...); err != nil {
			return nil, err
		}

		var params P
		if err := decodeParams(raw, &params); err != nil {
			return nil, errors.NewInvalidParamsError(map[string][]string{
				validation.ParamsField: {err.Error()},
			}).WithCause(err)
		}
		return fn(ctx, params)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	err := json.Unmarshal(raw, dst)
	if err == nil || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return err
	}
	var positional []json.RawMessage
	if json.Unmarshal(raw, &positional) != nil || len(positional) != 1 {
		return err
	}
	return json.Unmarshal(positional[0], dst)
}
