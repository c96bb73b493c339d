package log_test

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrophotograph/scopinator/pkg/log"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	evt := log.Event{
		Timestamp:    time.Unix(0, 1700000000000000000).UTC(),
		ConnectionID: "conn-1",
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			RequestID: 7,
			Method:    "GetTime",
		},
	}

	data, err := log.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}

	decoded, err := log.DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded.ConnectionID != evt.ConnectionID || decoded.Message.RequestID != 7 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestFileLoggerWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.clog")

	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	fl.Log(log.Event{ConnectionID: "a", Category: log.CategoryState})
	fl.Log(log.Event{ConnectionID: "b", Category: log.CategoryError})
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Logging after Close is silently ignored, not an error.
	fl.Log(log.Event{ConnectionID: "c"})

	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	var ids []string
	for {
		evt, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		ids = append(ids, evt.ConnectionID)
	}

	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected events read back: %v", ids)
	}
}

type recordingLogger struct {
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) { r.events = append(r.events, e) }

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := log.NewMultiLogger(a, b)

	m.Log(log.Event{ConnectionID: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both loggers to receive the event, got %d and %d", len(a.events), len(b.events))
	}
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	var l log.Logger = log.NoopLogger{}
	l.Log(log.Event{ConnectionID: "ignored"})
}

func TestReaderFilterByChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.clog")

	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Log(log.Event{ConnectionID: "control-1", Channel: log.ChannelControl})
	fl.Log(log.Event{ConnectionID: "imaging-1", Channel: log.ChannelImaging})
	fl.Close()

	imaging := log.ChannelImaging
	reader, err := log.NewFilteredReader(path, log.Filter{Channel: &imaging})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer reader.Close()

	evt, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.ConnectionID != "imaging-1" {
		t.Fatalf("expected imaging-1, got %s", evt.ConnectionID)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF after one matching event, got %v", err)
	}
}
