// ABOUTME: Process control errors with explanations and suggested actions
// ABOUTME: Returned by the lifecycle controller for start/stop/reload failures

package errors

import (
	"fmt"
	"time"

	"github.com/harper/rpcd/internal/jsonrpc"
)

// ErrorData is the structured data attached to server-side failures.
type ErrorData struct {
	ErrorType        string         `json:"error_type"`
	Explanation      string         `json:"explanation"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	RelevantState    map[string]any `json:"relevant_state,omitempty"`
	Recoverable      bool           `json:"recoverable"`
}

type AlreadyRunningError struct {
	Name    string
	PID     int
	PIDFile string
}

func NewAlreadyRunningError(name string, pid int, pidFile string) *AlreadyRunningError {
	return &AlreadyRunningError{Name: name, PID: pid, PIDFile: pidFile}
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s is already running (pid %d)", e.Name, e.PID)
}

func (e *AlreadyRunningError) ToJSONRPCError() *jsonrpc.ErrorBag {
	return jsonrpc.NewErrorBag(jsonrpc.ServerError, e.Error(), ErrorData{
		ErrorType:   "already_running",
		Explanation: "A live process is recorded in the pid file.",
		SuggestedActions: []string{
			fmt.Sprintf("Stop it first: %s stop", e.Name),
			fmt.Sprintf("Or restart it: %s restart", e.Name),
		},
		RelevantState: map[string]any{"pid": e.PID, "pid_file": e.PIDFile},
		Recoverable:   true,
	})
}

type NotRunningError struct {
	Name    string
	PIDFile string
}

func NewNotRunningError(name, pidFile string) *NotRunningError {
	return &NotRunningError{Name: name, PIDFile: pidFile}
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("there is no %s process running", e.Name)
}

func (e *NotRunningError) ToJSONRPCError() *jsonrpc.ErrorBag {
	return jsonrpc.NewErrorBag(jsonrpc.ServerError, e.Error(), ErrorData{
		ErrorType:   "not_running",
		Explanation: "The pid file is missing, unreadable, or names a dead process.",
		SuggestedActions: []string{
			fmt.Sprintf("Start it: %s start", e.Name),
			fmt.Sprintf("Check the pid file: cat %s", e.PIDFile),
		},
		RelevantState: map[string]any{"pid_file": e.PIDFile},
		Recoverable:   true,
	})
}

type StopTimeoutError struct {
	Name    string
	PID     int
	Waited  time.Duration
	Signals []string
}

func NewStopTimeoutError(name string, pid int, waited time.Duration, signals []string) *StopTimeoutError {
	return &StopTimeoutError{Name: name, PID: pid, Waited: waited, Signals: signals}
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("unable to stop %s (pid %d) after %s, sent %v", e.Name, e.PID, e.Waited, e.Signals)
}

func (e *StopTimeoutError) ToJSONRPCError() *jsonrpc.ErrorBag {
	return jsonrpc.NewErrorBag(jsonrpc.ServerError, e.Error(), ErrorData{
		ErrorType:   "stop_timeout",
		Explanation: "The process survived every signal in the stop sequence.",
		SuggestedActions: []string{
			fmt.Sprintf("Inspect the process: ps -p %d -o pid,stat,cmd", e.PID),
		},
		RelevantState: map[string]any{
			"pid":     e.PID,
			"waited":  e.Waited.String(),
			"signals": e.Signals,
		},
		Recoverable: false,
	})
}
