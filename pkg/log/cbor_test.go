package log_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/astrophotograph/scopinator/pkg/log"
)

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := log.NewEncoder(&buf)

	events := []log.Event{
		{ConnectionID: "s1", Category: log.CategoryState, Timestamp: time.Now()},
		{ConnectionID: "s1", Category: log.CategoryMessage, Direction: log.DirectionIn},
	}
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	dec := log.NewDecoder(&buf)
	var got []log.Event
	for {
		var e log.Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	if got[1].Direction != log.DirectionIn || got[1].Category != log.CategoryMessage {
		t.Fatalf("unexpected decoded event: %+v", got[1])
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := log.DecodeEvent([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected error decoding garbage bytes")
	}
}
