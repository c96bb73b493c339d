// Package imaging is the imaging-channel counterpart to pkg/control: a
// second transport.Transport, run in binary mode, carrying the
// preview/stacked/raw frame stream.
//
// Client composes the same connection.Manager + transport.Transport
// pair pkg/control does, with its own reconnect loop, but issues its
// streaming control RPCs (start_streaming/stop_streaming/fetch_image)
// over the caller's control channel rather than opening a third one:
// it depends on pkg/control only through the small Commander interface
// it declares itself, never on the concrete *control.Client, so the two
// packages can be composed in either direction without an import cycle.
package imaging
