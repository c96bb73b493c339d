package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/astrophotograph/scopinator/pkg/wire"
)

func TestEncodeRequestRoundTrip(t *testing.T) {
	data, err := wire.EncodeRequest(1, "GetTime", map[string]any{})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", data)
	}

	var decoded wire.OutgoingRequest
	if err := json.Unmarshal(data[:len(data)-1], &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != 1 || decoded.Method != "GetTime" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestClassifyResponse(t *testing.T) {
	line := []byte(`{"id":1,"result":{"time":"2024-01-02T03:04:05Z"}}`)
	class, err := wire.Classify(line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != wire.ClassResponse {
		t.Fatalf("expected ClassResponse, got %v", class)
	}

	resp, err := wire.DecodeResponse(line)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.ID != 1 || resp.Err != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClassifyErrorResponse(t *testing.T) {
	line := []byte(`{"id":2,"error":{"code":5,"message":"busy"}}`)
	class, err := wire.Classify(line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != wire.ClassResponse {
		t.Fatalf("expected ClassResponse, got %v", class)
	}

	resp, err := wire.DecodeResponse(line)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.Err == nil || resp.Err.Code != 5 || resp.Err.Message != "busy" {
		t.Fatalf("unexpected error payload: %+v", resp.Err)
	}
}

func TestClassifyEventByEventField(t *testing.T) {
	line := []byte(`{"Event":"PiStatus","payload":{"battery":87}}`)
	class, err := wire.Classify(line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != wire.ClassEvent {
		t.Fatalf("expected ClassEvent, got %v", class)
	}

	evt, err := wire.DecodeEvent(line)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if evt.Kind != "PiStatus" {
		t.Fatalf("expected kind PiStatus, got %q", evt.Kind)
	}
}

func TestClassifyEventByMethodWithoutID(t *testing.T) {
	line := []byte(`{"method":"ViewStateChanged","payload":{}}`)
	class, err := wire.Classify(line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != wire.ClassEvent {
		t.Fatalf("expected ClassEvent, got %v", class)
	}
}

func TestClassifyNotification(t *testing.T) {
	line := []byte(`{"foo":"bar"}`)
	class, err := wire.Classify(line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if class != wire.ClassNotification {
		t.Fatalf("expected ClassNotification, got %v", class)
	}
}

func TestClassifyMalformedJSON(t *testing.T) {
	_, err := wire.Classify([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
