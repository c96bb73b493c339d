package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageClass distinguishes the three shapes an incoming JSON line can
// take.
type MessageClass int

const (
	// ClassResponse: "id" present AND ("result" OR "error") present.
	ClassResponse MessageClass = iota

	// ClassEvent: "Event" present, OR "method" present without "id".
	ClassEvent

	// ClassNotification: anything else. Logged and dropped.
	ClassNotification
)

// OutgoingRequest is the envelope sent on the control channel:
// {"id": N, "method": "X", "params": {...}}\n
type OutgoingRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// EncodeRequest renders a request as a single newline-terminated JSON
// line. params may be nil, in which case an empty object is sent.
func EncodeRequest(id uint64, method string, params any) ([]byte, error) {
	if params == nil {
		params = struct{}{}
	}
	req := OutgoingRequest{ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')
	return data, nil
}

// RPCError is the device's verbatim {code, message} error payload.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IncomingResponse is the decoded shape of a Response-classified line.
type IncomingResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *RPCError       `json:"error,omitempty"`
}

// IncomingEvent is the decoded shape of an Event-classified line.
// Kind is taken from the "Event" field when present, else from "method".
type IncomingEvent struct {
	Kind    string          `json:"-"`
	Payload json.RawMessage `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

// envelope is the minimal shape used to classify an incoming line
// without losing any of its fields (pass-through fields survive in Raw).
type envelope struct {
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Event   json.RawMessage `json:"Event"`
	Method  *string         `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// Classify inspects a decoded JSON object and reports which of the
// three message classes it belongs to.
func Classify(line []byte) (MessageClass, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if env.ID != nil && (len(env.Result) > 0 || len(env.Error) > 0) {
		return ClassResponse, nil
	}
	if len(env.Event) > 0 || (env.Method != nil && env.ID == nil) {
		return ClassEvent, nil
	}
	return ClassNotification, nil
}

// DecodeResponse parses a line already classified as ClassResponse.
func DecodeResponse(line []byte) (*IncomingResponse, error) {
	var resp IncomingResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return &resp, nil
}

// DecodeEvent parses a line already classified as ClassEvent. The kind
// comes from "Event" if present, otherwise "method"; Payload is the
// object's "payload" field as-is, and the whole line is preserved
// verbatim as Raw so unknown fields pass through.
func DecodeEvent(line []byte) (*IncomingEvent, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	kind := ""
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, &kind); err != nil {
			// "Event" may itself be an object naming the kind under
			// a nested field; leave the kind empty (the object still
			// survives in Raw).
			kind = ""
		}
	} else if env.Method != nil {
		kind = *env.Method
	}

	return &IncomingEvent{
		Kind:    kind,
		Payload: env.Payload,
		Raw:     bytes.TrimSpace(line),
	}, nil
}

// ErrMalformedJSON indicates a line that failed to parse as JSON.
// Never fatal for the session: the control client logs the line at
// debug level and drops it. No count of such lines is kept.
var ErrMalformedJSON = errors.New("malformed JSON line")
