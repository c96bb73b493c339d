package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/astrophotograph/scopinator/pkg/log"
)

// Line framing constants for the control channel.
const (
	// MaxLineSize bounds a single text-protocol line; lines longer than
	// this are rejected rather than grown without limit.
	MaxLineSize = 1 << 20 // 1 MiB

	// MaxLogFrameDataSize caps how much of a line/frame is copied into
	// a log event; longer payloads are truncated.
	MaxLogFrameDataSize = 4096
)

// ErrLineTooLong indicates a line exceeded MaxLineSize before a
// newline was seen.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// LineWriter writes newline-delimited lines to an underlying writer,
// with optional protocol-event logging.
type LineWriter struct {
	w      io.Writer
	mu     sync.Mutex
	logger log.Logger
	connID string
}

// NewLineWriter creates a LineWriter. logger may be log.NoopLogger{}.
func NewLineWriter(w io.Writer, logger log.Logger, connID string) *LineWriter {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &LineWriter{w: w, logger: logger, connID: connID}
}

// WriteLine writes data followed by a single "\n". data must not
// itself contain a newline. Thread-safe.
func (lw *LineWriter) WriteLine(data []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if _, err := lw.w.Write(data); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if _, err := lw.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write line terminator: %w", err)
	}

	lw.logger.Log(lw.makeFrameEvent(data, log.DirectionOut))
	return nil
}

func (lw *LineWriter) makeFrameEvent(data []byte, direction log.Direction) log.Event {
	frameData, truncated := truncateForLog(data)
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: lw.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Channel:      log.ChannelControl,
		Frame: &log.FrameEvent{
			Size:      len(data) + 1,
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// LineReader reads newline-delimited lines from an underlying reader,
// with optional protocol-event logging. A trailing "\r" before the
// "\n" is stripped so CRLF and LF line endings both work.
type LineReader struct {
	scanner *bufio.Scanner
	logger  log.Logger
	connID  string
}

// NewLineReader creates a LineReader. logger may be log.NoopLogger{}.
func NewLineReader(r io.Reader, logger log.Logger, connID string) *LineReader {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), MaxLineSize)
	return &LineReader{scanner: scanner, logger: logger, connID: connID}
}

// ReadLine returns the next line, without its terminator. Returns
// io.EOF when the underlying reader is exhausted cleanly.
func (lr *LineReader) ReadLine() ([]byte, error) {
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		return nil, io.EOF
	}

	line := lr.scanner.Bytes()
	line = trimCR(line)

	// Copy out of the scanner's internal buffer before returning, since
	// the next Scan call reuses it.
	out := make([]byte, len(line))
	copy(out, line)

	lr.logger.Log(lr.makeFrameEvent(out, log.DirectionIn))
	return out, nil
}

func (lr *LineReader) makeFrameEvent(data []byte, direction log.Direction) log.Event {
	frameData, truncated := truncateForLog(data)
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: lr.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Channel:      log.ChannelControl,
		Frame: &log.FrameEvent{
			Size:      len(data) + 1,
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

func truncateForLog(data []byte) (out []byte, truncated bool) {
	if len(data) <= MaxLogFrameDataSize {
		return data, false
	}
	return data[:MaxLogFrameDataSize], true
}
