package imaging

import (
	"context"
	"time"

	"github.com/astrophotograph/scopinator/pkg/eventbus"
)

// FrameSource is an alternate origin for frames, pluggable in place of
// the device's own binary channel. Client's pipeline — counters,
// fetch-by-id correlation, fan-out — does not depend on the device's
// wire format; RunSource feeds any FrameSource through the same path
// OnFrame uses for the binary channel.
type FrameSource interface {
	Connect(ctx context.Context) error
	Frames() <-chan *Frame
	Close() error
}

// RunSource pulls frames from source until ctx is cancelled or the
// source's channel closes, publishing each one exactly as OnFrame
// would. Unlike the binary channel, a FrameSource carries no explicit
// drop marker and no device timestamp cadence to compare against, so
// every delivered frame counts as stacked; a source that can detect its
// own drops should mark Frame.Dropped itself before sending.
func (c *Client) RunSource(ctx context.Context, source FrameSource) error {
	if err := source.Connect(ctx); err != nil {
		return err
	}
	defer source.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-source.Frames():
			if !ok {
				return nil
			}
			c.status.TouchImagingLastSeen()
			if frame.Dropped {
				c.status.AddStackCounts(0, 1, 0)
			} else {
				c.status.AddStackCounts(1, 0, 0)
			}
			c.completeFetchWaiter(frame)
			c.bus.Publish(eventbus.Event{Kind: EventKindFrame, Timestamp: time.Now(), Payload: frame})
		}
	}
}
