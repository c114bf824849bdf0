// ABOUTME: XDG path errors with explanations and suggested actions
// ABOUTME: Used when the pid file directory cannot be created

package errors

import (
	"fmt"

	"github.com/harper/rpcd/internal/jsonrpc"
)

type XDGPathError struct {
	Variable      string
	AttemptedPath string
	UnderlyingErr error
}

func NewXDGPathError(variable, path string, err error) *XDGPathError {
	return &XDGPathError{
		Variable:      variable,
		AttemptedPath: path,
		UnderlyingErr: err,
	}
}

func (e *XDGPathError) Error() string {
	return fmt.Sprintf("cannot create %s directory at %s: %v", e.Variable, e.AttemptedPath, e.UnderlyingErr)
}

func (e *XDGPathError) Unwrap() error {
	return e.UnderlyingErr
}

func (e *XDGPathError) ToJSONRPCError() *jsonrpc.ErrorBag {
	return jsonrpc.NewErrorBag(jsonrpc.ServerError, e.Error(), ErrorData{
		ErrorType:   "xdg_path_error",
		Explanation: "Could not create the directory holding the rpcd pid file.",
		SuggestedActions: []string{
			fmt.Sprintf("Check permissions: ls -ld %s", e.AttemptedPath),
			fmt.Sprintf("Manually create directory: mkdir -p %s", e.AttemptedPath),
			"Or set server.pid_file to a writable location",
		},
		RelevantState: map[string]any{
			"variable":       e.Variable,
			"attempted_path": e.AttemptedPath,
			"error":          e.UnderlyingErr.Error(),
		},
		Recoverable: true,
	})
}
