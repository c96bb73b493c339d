package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger persists protocol events to a CBOR-encoded file. Safe for
// concurrent use from multiple goroutines (a session's control and
// imaging reader tasks both log through the same instance).
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder
	only    *Channel

	mu     sync.Mutex
	closed bool
}

// FileLoggerOption configures a FileLogger at construction.
type FileLoggerOption func(*FileLogger)

// WithChannelFilter restricts the FileLogger to events on ch, letting a
// caller split the control and imaging channels into separate log
// files by opening two FileLoggers over the same MultiLogger with
// different filters instead of post-processing one combined file.
func WithChannelFilter(ch Channel) FileLoggerOption {
	return func(f *FileLogger) { f.only = &ch }
}

// NewFileLogger opens (creating if needed, appending otherwise) a CBOR
// log file at path.
func NewFileLogger(path string, opts ...FileLoggerOption) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	fl := &FileLogger{file: f, encoder: NewEncoder(f)}
	for _, opt := range opts {
		opt(fl)
	}
	return fl, nil
}

// Log writes event to the file, unless a WithChannelFilter was
// configured and event.Channel doesn't match it. Encoding errors are
// swallowed: a broken log sink must never stop the session it logs.
func (l *FileLogger) Log(event Event) {
	if l.only != nil && event.Channel != *l.only {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Close closes the underlying file. Idempotent; Log calls after Close
// are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
