// Package diag implements the diagnostics sink injected into core
// components that perform best-effort I/O (audit append, index
// refresh, auto-session update). A diagnostic never affects control
// flow: Warn/Error only ever record, they cannot be checked for
// failure by the caller.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives structured, non-fatal warnings and errors from
// best-effort collaborators. Implementations must not block callers
// and must never panic.
type Sink interface {
	Warn(component, message string, fields map[string]any)
	Error(component, message string, err error, fields map[string]any)
}

// Discard drops every diagnostic. Useful in tests that don't care
// about best-effort side channels.
var Discard Sink = discard{}

type discard struct{}

func (discard) Warn(string, string, map[string]any)             {}
func (discard) Error(string, string, error, map[string]any)     {}

// Writer is the default sink: one line per event, to an io.Writer
// (normally os.Stderr), optionally tee'd to a rotating log file.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStderr returns a sink that writes only to stderr.
func NewStderr() *Writer {
	return &Writer{out: os.Stderr}
}

// NewFile returns a sink that writes to stderr and to a rotating file
// at path, using lumberjack so diagnostics logs don't grow unbounded
// across a long-lived session.
func NewFile(path string) *Writer {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return &Writer{out: io.MultiWriter(os.Stderr, rotator)}
}

func (w *Writer) Warn(component, message string, fields map[string]any) {
	w.write("WARN", component, message, nil, fields)
}

func (w *Writer) Error(component, message string, err error, fields map[string]any) {
	w.write("ERROR", component, message, err, fields)
}

func (w *Writer) write(level, component, message string, err error, fields map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := fmt.Sprintf("%s %s [%s] %s", time.Now().UTC().Format(time.RFC3339), level, component, message)
	if err != nil {
		line += " err=" + err.Error()
	}
	for k, v := range fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(w.out, line)
}
