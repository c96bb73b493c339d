package log_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/astrophotograph/scopinator/pkg/log"
)

func TestSlogAdapterEmitsMessageAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := log.NewSlogAdapter(slog.New(handler))

	adapter.Log(log.Event{
		ConnectionID: "conn-1",
		Channel:      log.ChannelImaging,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			RequestID: 42,
			Method:    "Park",
		},
	})

	out := buf.String()
	for _, want := range []string{"conn-1", "imaging", "Park", "req_id=42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got: %s", want, out)
		}
	}
}

func TestSlogAdapterEmitsEventBusAttrs(t *testing.T) {
	var buf bytes.Buffer
	adapter := log.NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(log.Event{
		ConnectionID: "conn-2",
		Category:     log.CategoryEventBus,
		EventBus: &log.EventBusEvent{
			Kind:    "status.updated",
			Dropped: true,
			Subs:    3,
		},
	})

	out := buf.String()
	for _, want := range []string{"status.updated", "dropped=true", "subscribers=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got: %s", want, out)
		}
	}
}
