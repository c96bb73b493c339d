package log_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/astrophotograph/scopinator/pkg/log"
)

func TestFileLoggerClosedTwiceIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.clog")
	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestFileLoggerAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.clog")

	first, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	first.Log(log.Event{ConnectionID: "first-run"})
	first.Close()

	second, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger (reopen): %v", err)
	}
	second.Log(log.Event{ConnectionID: "second-run"})
	second.Close()

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

	if len(ids) != 2 || ids[0] != "first-run" || ids[1] != "second-run" {
		t.Fatalf("expected appended events from both opens, got %v", ids)
	}
}

func TestFileLoggerChannelFilterDropsOtherChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control-only.clog")

	fl, err := log.NewFileLogger(path, log.WithChannelFilter(log.ChannelControl))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Log(log.Event{ConnectionID: "a", Channel: log.ChannelControl})
	fl.Log(log.Event{ConnectionID: "b", Channel: log.ChannelImaging})
	fl.Log(log.Event{ConnectionID: "c", Channel: log.ChannelControl})
	fl.Close()

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

	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("expected only control-channel events, got %v", ids)
	}
}
