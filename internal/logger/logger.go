// ABOUTME: Structured logging with verbosity control and level-based output
// ABOUTME: Also provides the failure-report sink that surfaces its own write errors

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose = false
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables verbose (DEBUG) logging
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns current verbose setting
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output destination for logs
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		output = os.Stderr
		log.SetOutput(os.Stderr)
	} else {
		output = w
		log.SetOutput(w)
	}
}

// Output returns the current log destination.
func Output() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return output
}

// Debug logs at DEBUG level (only shown when verbose)
func Debug(format string, args ...interface{}) {
	if IsVerbose() {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[DEBUG] %s", msg)
	}
}

// Info logs at INFO level (always shown)
func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[INFO] %s", msg)
}

// Warn logs at WARN level (always shown)
func Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[WARN] %s", msg)
}

// Error logs at ERROR level (always shown)
func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[ERROR] %s", msg)
}

// Sink receives failure reports. Unlike the level functions, a sink
// returns the write error so callers can fall back when logging is broken.
type Sink interface {
	Report(format string, args ...interface{}) error
}

// WriterSink reports at ERROR level to a writer.
type WriterSink struct {
	mu  sync.Mutex
	out *log.Logger
}

// NewSink creates a sink writing to w. A nil w follows the package output.
func NewSink(w io.Writer) Sink {
	if w == nil {
		return outputSink{}
	}
	return &WriterSink{out: log.New(w, "", log.LstdFlags)}
}

func (s *WriterSink) Report(format string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Output(2, "[ERROR] "+fmt.Sprintf(format, args...))
}

// outputSink writes to whatever SetOutput last configured.
type outputSink struct{}

func (outputSink) Report(format string, args ...interface{}) error {
	l := log.New(Output(), "", log.LstdFlags)
	return l.Output(2, "[ERROR] "+fmt.Sprintf(format, args...))
}
