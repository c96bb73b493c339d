// Package wire implements the two on-the-wire encodings scopinator
// speaks to the device: newline-delimited JSON envelopes on the
// control channel (text.go) and fixed 80-byte-header binary frames on
// the imaging channel (binary.go).
package wire
