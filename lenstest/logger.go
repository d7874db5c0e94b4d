// Copyright © 2024 The ELPS authors

package lenstest

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/tliron/commonlog"
	"github.com/tliron/commonlog/simple"
)

// Logger is an io.Writer that forwards complete lines to a test log.
type Logger struct {
	t      testing.TB
	mu     sync.Mutex
	buf    []byte
	closed bool
}

var _ io.Writer = (*Logger)(nil)

func NewLogger(t testing.TB) *Logger {
	return &Logger{
		t: t,
	}
}

func (log *Logger) Write(b []byte) (int, error) {
	log.mu.Lock()
	defer log.mu.Unlock()
	if log.closed {
		return len(b), nil
	}
	log.buf = append(log.buf, b...)
	for {
		i := bytes.IndexByte(log.buf, '\n')
		if i < 0 {
			return len(b), nil
		}
		log.t.Log(string(log.buf[:i])) // slice does not include \n
		log.buf = log.buf[i+1:]
	}
}

// Flush logs any partial line.
func (log *Logger) Flush() {
	log.mu.Lock()
	defer log.mu.Unlock()
	log.flush()
}

// Close flushes and drops everything written afterwards. Goroutines that
// outlive a test must not log to it.
func (log *Logger) Close() error {
	log.mu.Lock()
	defer log.mu.Unlock()
	log.flush()
	log.closed = true
	return nil
}

func (log *Logger) flush() {
	if len(log.buf) == 0 {
		return
	}
	log.t.Log(string(log.buf))
	log.buf = nil
}

// CaptureLogs routes commonlog output into the test log at the given
// verbosity until the test ends. It swaps the process-wide backend, so
// tests that call it must not run in parallel.
func CaptureLogs(t testing.TB, verbosity int) *Logger {
	l := NewLogger(t)
	backend := simple.NewBackend()
	backend.Buffered = false
	backend.Configure(verbosity, nil)
	backend.Writer = l
	commonlog.SetBackend(backend)
	t.Cleanup(func() {
		_ = l.Close()
		// Back to the backend the simple package installs on import.
		std := simple.NewBackend()
		std.Configure(0, nil)
		commonlog.SetBackend(std)
	})
	return l
}
