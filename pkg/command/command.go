// Package command declares the contract pkg/control accepts for
// outgoing device commands. The catalog of concrete commands (one type
// per device method, generated or hand-written from whatever schema
// source a caller has) is explicitly out of scope here — this package
// only defines what pkg/control needs to serialize and validate one.
//
// The source this spec was distilled from resolved commands through
// runtime reflection over generated command classes. That reflection
// is replaced here with a single static interface: each command
// declares its own method name, params, and response schema; pkg/wire
// never needs to know the command catalog to encode a request.
package command

// Command is one outgoing device request. Implementations are typically
// small value types, one per device method, defined by the caller — not
// by this package.
type Command interface {
	// Method is the device RPC method name sent as the envelope's
	// "method" field.
	Method() string

	// Params is marshaled as the envelope's "params" field. May return
	// nil for a command that takes no parameters.
	Params() any

	// ResponseSchema names the shape the device's "result" payload is
	// expected to take, for callers that validate responses against a
	// schema registry. An empty string means the response is opaque
	// and the caller decodes it itself.
	ResponseSchema() string
}

// Simple is a Command a caller can construct inline without declaring
// its own type, for one-off or dynamically-built requests.
type Simple struct {
	MethodName  string
	ParamsValue any
	Schema      string
}

func (s Simple) Method() string         { return s.MethodName }
func (s Simple) Params() any            { return s.ParamsValue }
func (s Simple) ResponseSchema() string { return s.Schema }

var _ Command = Simple{}
