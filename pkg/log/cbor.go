package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// eventCodec bundles the encode/decode modes every CBOR entry point in
// this package shares, so Event's on-disk shape only needs to be
// configured in one place.
var eventCodec = newEventCodec()

type codecModes struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// newEventCodec builds the canonical CBOR modes for Event: sorted,
// definite-length encoding with nanosecond-precision timestamps on the
// write side, and a tolerant reader on the decode side (duplicate keys
// and indefinite-length items from other encoders don't hard-fail).
func newEventCodec() codecModes {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: build CBOR encoder mode: %v", err))
	}

	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: build CBOR decoder mode: %v", err))
	}

	return codecModes{enc: enc, dec: dec}
}

// EncodeEvent renders event as CBOR bytes with the package's canonical
// integer-keyed encoding.
func EncodeEvent(event Event) ([]byte, error) {
	return eventCodec.enc.Marshal(event)
}

// DecodeEvent parses CBOR bytes produced by EncodeEvent (or NewEncoder)
// back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventCodec.dec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder wraps w in a CBOR encoder using the package's canonical
// Event encoding, for streaming writers like FileLogger.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return eventCodec.enc.NewEncoder(w)
}

// NewDecoder wraps r in a CBOR decoder matching NewEncoder's framing,
// for streaming readers like Reader.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return eventCodec.dec.NewDecoder(r)
}
