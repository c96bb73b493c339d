package imaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astrophotograph/scopinator/pkg/command"
	"github.com/astrophotograph/scopinator/pkg/connection"
	"github.com/astrophotograph/scopinator/pkg/errs"
	"github.com/astrophotograph/scopinator/pkg/eventbus"
	applog "github.com/astrophotograph/scopinator/pkg/log"
	"github.com/astrophotograph/scopinator/pkg/status"
	"github.com/astrophotograph/scopinator/pkg/transport"
	"github.com/astrophotograph/scopinator/pkg/wire"
)

// Mode selects what a streaming session delivers. It is distinct from
// wire.FrameKind, which classifies a single already-received frame
// (and includes Thumbnail, never a valid streaming mode).
type Mode int

const (
	ModePreview Mode = iota
	ModeStack
	ModeRaw
)

func (m Mode) String() string {
	switch m {
	case ModePreview:
		return "preview"
	case ModeStack:
		return "stack"
	case ModeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// EventKindFrame is the kind published on the Client's event bus for
// every received frame, including dropped and skipped ones.
const EventKindFrame = "Frame"

// EventKindInternalDisconnected/Reconnected mirror control.Client's own
// synthetic events, scoped to the imaging channel so a caller
// subscribed to both clients' buses can tell which channel moved.
const EventKindInternalDisconnected = "ImagingInternalDisconnected"
const EventKindInternalReconnected = "ImagingInternalReconnected"

// Frame is one decoded image delivered on the binary channel.
type Frame struct {
	ID        uint64
	Kind      wire.FrameKind
	Dropped   bool
	Skipped   bool
	Timestamp time.Time
	Width     uint32
	Height    uint32
	Payload   []byte
}

// Commander is the narrow slice of *control.Client a Client needs to
// issue its streaming RPCs, declared here rather than in pkg/control so
// neither package has to import the other. *control.Client satisfies
// it with no adapter.
type Commander interface {
	Send(ctx context.Context, cmd command.Command) (*wire.IncomingResponse, error)
}

// FetchImageRequest is the params sent with a fetch_image call.
type FetchImageRequest struct {
	Mode Mode
}

type fetchImageResult struct {
	FrameID uint64 `json:"frame_id"`
}

// Config configures a Client. The zero value is usable; setDefaults
// fills in every unset field.
type Config struct {
	// ConnectTimeout bounds each TCP dial attempt. Default 10s.
	ConnectTimeout time.Duration

	// ReadIdleTimeout disconnects the channel after this much silence.
	// Default 30s.
	ReadIdleTimeout time.Duration

	// MaxFrameSize bounds a single binary frame. Default
	// wire.DefaultMaxFrame.
	MaxFrameSize uint32

	// FetchImageTimeout bounds how long FetchImage waits for the
	// matching frame to arrive after the device acknowledges the
	// request. Default 10s.
	FetchImageTimeout time.Duration

	// SkipJumpFactor controls the timestamp-skip heuristic: a frame is
	// counted as skipped when its gap from the previous frame exceeds
	// SkipJumpFactor times the running average gap. Default 2.5.
	SkipJumpFactor float64

	// MaxReconnectAttempts bounds consecutive reconnect attempts before
	// the Client gives up. 0 (default) retries forever.
	MaxReconnectAttempts int

	// Backoff customizes the reconnect delay curve. Zero value uses the
	// package default (base 500ms, cap 10s).
	Backoff connection.BackoffConfig

	// EventBus tunes per-subscriber queue size and overflow warnings.
	EventBus eventbus.Config

	// ProtocolLogger receives structured wire-level events. Optional.
	ProtocolLogger applog.Logger

	// Logger receives human-oriented debug logs. Optional.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 30 * time.Second
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = wire.DefaultMaxFrame
	}
	if c.FetchImageTimeout <= 0 {
		c.FetchImageTimeout = 10 * time.Second
	}
	if c.SkipJumpFactor <= 0 {
		c.SkipJumpFactor = 2.5
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = applog.NoopLogger{}
	}
}

// Client is a binary-mode imaging-channel session to one device, paired
// with a Commander used to issue the RPCs that start and stop the
// stream it receives frames from. The zero value is not usable;
// construct with New.
type Client struct {
	cfg       Config
	commander Commander
	status    *status.Store
	bus       *eventbus.Bus

	mu        sync.RWMutex
	endpoint  string
	manager   *connection.Manager
	transport *transport.Transport
	closing   bool
	streaming bool

	tsMu              sync.Mutex
	lastTimestamp     uint64
	haveLastTimestamp bool
	avgIntervalNs     float64

	fetchMu      sync.Mutex
	fetchWaiters map[uint64]chan fetchOutcome
}

// fetchOutcome is what a pending FetchImage call is waiting on: exactly
// one of frame or err is set.
type fetchOutcome struct {
	frame *Frame
	err   error
}

// New creates a Client not yet connected to any endpoint. store is
// typically obtained from a paired control.Client's StatusStore, so
// both channels update one shared view of device status.
func New(cfg Config, commander Commander, store *status.Store) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:          cfg,
		commander:    commander,
		status:       store,
		bus:          eventbus.New(cfg.EventBus, cfg.ProtocolLogger),
		fetchWaiters: make(map[uint64]chan fetchOutcome),
	}
}

// Connect dials endpoint and blocks until the first attempt succeeds or
// fails, then reconnects automatically on loss until Close is called.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.manager != nil {
		c.mu.Unlock()
		return connection.ErrAlreadyConnected
	}
	c.endpoint = endpoint
	c.closing = false
	backoff := connection.NewBackoffWithConfig(c.cfg.Backoff)
	manager := connection.NewManagerWithBackoff(c.dial, backoff)
	manager.SetMaxAttempts(c.cfg.MaxReconnectAttempts)
	manager.OnConnected(c.handleManagerConnected)
	manager.OnDisconnected(c.handleManagerDisconnected)
	manager.OnReconnectFailed(c.handleReconnectFailed)
	c.manager = manager
	c.mu.Unlock()

	if err := manager.Connect(ctx); err != nil {
		c.mu.Lock()
		c.manager = nil
		c.mu.Unlock()
		return err
	}
	manager.StartReconnectLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	t := transport.New(transport.Config{
		Mode:            transport.ModeBinary,
		ConnectTimeout:  c.cfg.ConnectTimeout,
		ReadIdleTimeout: c.cfg.ReadIdleTimeout,
		MaxFrameSize:    c.cfg.MaxFrameSize,
		Logger:          c.cfg.ProtocolLogger,
	}, c)

	c.mu.RLock()
	endpoint := c.endpoint
	c.mu.RUnlock()

	if err := t.Connect(ctx, endpoint); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConnectFailed, err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	return nil
}

func (c *Client) handleManagerConnected() {
	c.status.SetImagingConnected(true)
	c.bus.Publish(eventbus.Event{Kind: EventKindInternalReconnected, Timestamp: time.Now()})
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("imaging channel connected", "endpoint", c.endpoint)
	}
}

// handleManagerDisconnected fails every pending fetch, clears the
// streaming flag (a new start_streaming call is required after
// reconnect, never resumed implicitly), and publishes the loss.
func (c *Client) handleManagerDisconnected() {
	c.status.SetImagingConnected(false)

	c.mu.Lock()
	c.streaming = false
	c.mu.Unlock()

	c.failAllFetchWaiters(errs.ErrDisconnected)

	c.bus.Publish(eventbus.Event{Kind: EventKindInternalDisconnected, Timestamp: time.Now()})
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("imaging channel lost", "endpoint", c.endpoint)
	}
}

func (c *Client) handleReconnectFailed() {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn("imaging channel gave up reconnecting", "endpoint", c.endpoint)
	}
}

// Disconnect tears the channel down; the Client may be reused with
// another Connect call afterward.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	manager := c.manager
	tr := c.transport
	if manager == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.manager = nil
	c.transport = nil
	c.streaming = false
	c.mu.Unlock()

	manager.Close()

	c.failAllFetchWaiters(errs.ErrCancelled)

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Close tears the Client down entirely and stops its event bus.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.bus.Close()
	return err
}

// StartStreaming asks the device to begin delivering frames in mode
// and resets the session's stack counters. Streaming is not resumed
// automatically across a reconnect; callers must call StartStreaming
// again after one.
func (c *Client) StartStreaming(ctx context.Context, mode Mode) error {
	_, err := c.commander.Send(ctx, command.Simple{
		MethodName:  "start_streaming",
		ParamsValue: map[string]any{"mode": mode.String()},
	})
	if err != nil {
		return err
	}

	c.status.ResetStackCounters()
	c.tsMu.Lock()
	c.haveLastTimestamp = false
	c.avgIntervalNs = 0
	c.tsMu.Unlock()

	c.mu.Lock()
	c.streaming = true
	c.mu.Unlock()
	return nil
}

// StopStreaming asks the device to stop delivering frames.
func (c *Client) StopStreaming(ctx context.Context) error {
	_, err := c.commander.Send(ctx, command.Simple{MethodName: "stop_streaming"})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.streaming = false
	c.mu.Unlock()
	return nil
}

// FetchImage issues a one-shot capture request and waits for the frame
// the device tags with the id it returns, up to Config.FetchImageTimeout.
func (c *Client) FetchImage(ctx context.Context, req FetchImageRequest) (*Frame, error) {
	resp, err := c.commander.Send(ctx, command.Simple{
		MethodName:  "fetch_image",
		ParamsValue: map[string]any{"mode": req.Mode.String()},
	})
	if err != nil {
		return nil, err
	}

	var result fetchImageResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: decode fetch_image result: %v", errs.ErrProtocol, err)
	}

	ch := make(chan fetchOutcome, 1)
	c.fetchMu.Lock()
	c.fetchWaiters[result.FrameID] = ch
	c.fetchMu.Unlock()

	timer := time.NewTimer(c.cfg.FetchImageTimeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome.frame, outcome.err
	case <-timer.C:
		c.removeFetchWaiter(result.FrameID)
		return nil, errs.ErrTimeout
	case <-ctx.Done():
		c.removeFetchWaiter(result.FrameID)
		return nil, ctx.Err()
	}
}

func (c *Client) removeFetchWaiter(id uint64) {
	c.fetchMu.Lock()
	delete(c.fetchWaiters, id)
	c.fetchMu.Unlock()
}

func (c *Client) completeFetchWaiter(frame *Frame) {
	c.fetchMu.Lock()
	ch, ok := c.fetchWaiters[frame.ID]
	if ok {
		delete(c.fetchWaiters, frame.ID)
	}
	c.fetchMu.Unlock()
	if ok {
		ch <- fetchOutcome{frame: frame}
	}
}

func (c *Client) failAllFetchWaiters(err error) {
	c.fetchMu.Lock()
	waiters := c.fetchWaiters
	c.fetchWaiters = make(map[uint64]chan fetchOutcome)
	c.fetchMu.Unlock()
	for _, ch := range waiters {
		ch <- fetchOutcome{err: err}
	}
}

// SubscribeFrames registers handler for every received frame,
// including ones flagged Dropped or Skipped.
func (c *Client) SubscribeFrames(handler eventbus.Handler) *eventbus.Subscription {
	return c.bus.Subscribe(EventKindFrame, handler)
}

// Subscribe registers handler for events of the given kind (or
// eventbus.KindAll), including the InternalDisconnected/Reconnected
// kinds this Client publishes itself.
func (c *Client) Subscribe(kind string, handler eventbus.Handler) *eventbus.Subscription {
	return c.bus.Subscribe(kind, handler)
}

// Streaming reports whether StartStreaming has succeeded without a
// subsequent StopStreaming or disconnect.
func (c *Client) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streaming
}

// ---- transport.Handler implementation ----

// OnLine is never invoked: Client always runs the transport in
// ModeBinary.
func (c *Client) OnLine(line []byte) {}

// OnFrame classifies one incoming binary frame, updates the shared
// stack counters, completes any FetchImage waiting on its id, and
// publishes it to subscribers.
func (c *Client) OnFrame(header *wire.Header, payload []byte) {
	c.status.TouchImagingLastSeen()

	skipped := false
	if !header.Dropped {
		skipped = c.detectSkip(header.Timestamp)
	}

	switch {
	case header.Dropped:
		c.status.AddStackCounts(0, 1, 0)
	case skipped:
		c.status.AddStackCounts(0, 0, 1)
	default:
		c.status.AddStackCounts(1, 0, 0)
	}

	frame := &Frame{
		ID:        header.ID,
		Kind:      header.Kind,
		Dropped:   header.Dropped,
		Skipped:   skipped,
		Timestamp: time.Unix(0, int64(header.Timestamp)),
		Width:     header.Width,
		Height:    header.Height,
		Payload:   payload,
	}

	c.completeFetchWaiter(frame)
	c.bus.Publish(eventbus.Event{Kind: EventKindFrame, Timestamp: time.Now(), Payload: frame})
}

// detectSkip flags a frame whose gap from the previous one is far
// larger than the running average gap, tracked as a simple exponential
// moving average rather than a fixed interval (the device's streaming
// rate is itself mode-dependent and not fixed). The first two frames of
// a session never count as skipped; there is no average yet to compare
// against.
func (c *Client) detectSkip(timestamp uint64) bool {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()

	if !c.haveLastTimestamp {
		c.lastTimestamp = timestamp
		c.haveLastTimestamp = true
		return false
	}

	var gap float64
	if timestamp > c.lastTimestamp {
		gap = float64(timestamp - c.lastTimestamp)
	}
	c.lastTimestamp = timestamp

	if c.avgIntervalNs == 0 {
		c.avgIntervalNs = gap
		return false
	}

	skipped := gap > c.avgIntervalNs*c.cfg.SkipJumpFactor
	// EWMA with alpha 0.2; a skip doesn't poison the average with its
	// own outlier gap.
	if !skipped {
		c.avgIntervalNs = c.avgIntervalNs*0.8 + gap*0.2
	}
	return skipped
}

// OnStateChange notifies the connection.Manager of an unexpected loss.
func (c *Client) OnStateChange(oldState, newState transport.ConnectionState) {
	if newState != transport.StateDisconnected || oldState != transport.StateConnected {
		return
	}

	c.mu.RLock()
	manager := c.manager
	closing := c.closing
	c.mu.RUnlock()

	if manager != nil && !closing {
		manager.NotifyConnectionLost()
	}
}

// OnError logs transport-layer errors; the transport force-closes
// itself immediately afterward, which drives OnStateChange.
func (c *Client) OnError(err error) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("imaging: transport error", "error", err)
	}
}

var _ transport.Handler = (*Client)(nil)
