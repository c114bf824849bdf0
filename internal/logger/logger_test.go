// ABOUTME: Tests for structured logging with verbosity control
// ABOUTME: Covers level prefixes and the failure-report sink

package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSetVerbose(t *testing.T) {
	// Default should be non-verbose
	if IsVerbose() {
		t.Error("Logger should default to non-verbose")
	}

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("SetVerbose(true) did not enable verbose mode")
	}

	SetVerbose(false)
	if IsVerbose() {
		t.Error("SetVerbose(false) did not disable verbose mode")
	}
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	// Debug should not show when not verbose
	SetVerbose(false)
	Debug("test debug message")
	if buf.Len() > 0 {
		t.Error("Debug output when not verbose")
	}

	// Debug should show when verbose
	SetVerbose(true)
	buf.Reset()
	Debug("test debug message")
	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Error("Debug did not output [DEBUG] prefix")
	}
	if !strings.Contains(buf.String(), "test debug message") {
		t.Error("Debug did not output message")
	}
}

func TestInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Info("test info message")
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Error("Info did not output [INFO] prefix")
	}
	if !strings.Contains(buf.String(), "test info message") {
		t.Error("Info did not output message")
	}
}

func TestWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Warn("test warn message")
	if !strings.Contains(buf.String(), "[WARN]") {
		t.Error("Warn did not output [WARN] prefix")
	}
	if !strings.Contains(buf.String(), "test warn message") {
		t.Error("Warn did not output message")
	}
}

func TestErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Error("test error message")
	if !strings.Contains(buf.String(), "[ERROR]") {
		t.Error("Error did not output [ERROR] prefix")
	}
	if !strings.Contains(buf.String(), "test error message") {
		t.Error("Error did not output message")
	}
}

func TestFormatting(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Info("formatted %s: %d", "test", 42)
	output := buf.String()

	if !strings.Contains(output, "formatted test: 42") {
		t.Errorf("Formatting failed, got: %q", output)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSinkReport(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf)

	if err := sink.Report("handler %s failed: %v", "ping", "boom"); err != nil {
		t.Fatalf("Report returned %v", err)
	}
	if !strings.Contains(buf.String(), "[ERROR] handler ping failed: boom") {
		t.Errorf("unexpected report output: %q", buf.String())
	}
}

func TestSinkSurfacesWriteFailure(t *testing.T) {
	sink := NewSink(brokenWriter{})
	if err := sink.Report("anything"); err == nil {
		t.Error("expected write failure to be returned")
	}
}

func TestDefaultSinkFollowsOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	if err := NewSink(nil).Report("routed"); err != nil {
		t.Fatalf("Report returned %v", err)
	}
	if !strings.Contains(buf.String(), "routed") {
		t.Errorf("default sink did not write to configured output: %q", buf.String())
	}
}
