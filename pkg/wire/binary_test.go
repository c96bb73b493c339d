package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/astrophotograph/scopinator/pkg/wire"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &wire.Header{
		Magic:     wire.Magic,
		ID:        42,
		Kind:      wire.FrameStacked,
		Timestamp: 1700000000000000000,
		Width:     1920,
		Height:    1080,
	}
	h.Length = wire.HeaderSize

	buf := wire.EncodeHeader(h)
	if len(buf) != wire.HeaderSize {
		t.Fatalf("expected %d bytes, got %d", wire.HeaderSize, len(buf))
	}

	decoded, err := wire.DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if decoded.ID != h.ID || decoded.Kind != h.Kind || decoded.Timestamp != h.Timestamp {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, h)
	}
	if decoded.Width != 1920 || decoded.Height != 1080 {
		t.Fatalf("width/height mismatch: %+v", decoded)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	_, err := wire.DecodeHeader(buf)
	if err == nil {
		t.Fatal("expected error for zero magic")
	}
}

func TestFrameReaderWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewFrameWriter(&buf)

	h := &wire.Header{Magic: wire.Magic, ID: 7, Kind: wire.FramePreview, Timestamp: 123}
	payload := []byte("hello world")
	if err := w.WriteFrame(h, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := wire.NewFrameReader(&buf)
	gotHdr, gotPayload, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if gotHdr.ID != 7 || gotHdr.Kind != wire.FramePreview {
		t.Fatalf("unexpected header: %+v", gotHdr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: %q vs %q", gotPayload, payload)
	}
}

func TestFrameReaderRejectsOversizeWithoutAllocating(t *testing.T) {
	var buf bytes.Buffer

	h := &wire.Header{Magic: wire.Magic, ID: 1, Kind: wire.FrameRaw}
	// Claim a payload far larger than our configured max, but never
	// actually write that much data - a correct reader rejects based
	// on the header's length field before attempting to read the body.
	h.Length = wire.HeaderSize + 1024
	encoded := wire.EncodeHeader(h)
	buf.Write(encoded)

	r := wire.NewFrameReaderWithMax(&buf, 100)
	_, _, err := r.ReadFrame()
	if err == nil {
		t.Fatal("expected ErrFrameTooLarge")
	}
}

func TestFrameReaderEOF(t *testing.T) {
	r := wire.NewFrameReader(bytes.NewReader(nil))
	_, _, err := r.ReadFrame()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	r := wire.NewFrameReader(bytes.NewReader(make([]byte, 10)))
	_, _, err := r.ReadFrame()
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestDropMarkerRoundTrip(t *testing.T) {
	h := &wire.Header{Magic: wire.Magic, Kind: wire.FrameStacked, Dropped: true}
	buf := wire.EncodeHeader(h)
	decoded, err := wire.DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !decoded.Dropped {
		t.Fatal("expected Dropped to survive round trip")
	}
	if decoded.Kind != wire.FrameStacked {
		t.Fatalf("expected Kind to be clean of marker bit, got %v", decoded.Kind)
	}
}
