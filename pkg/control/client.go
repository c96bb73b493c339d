package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astrophotograph/scopinator/pkg/command"
	"github.com/astrophotograph/scopinator/pkg/connection"
	"github.com/astrophotograph/scopinator/pkg/correlator"
	"github.com/astrophotograph/scopinator/pkg/errs"
	"github.com/astrophotograph/scopinator/pkg/eventbus"
	applog "github.com/astrophotograph/scopinator/pkg/log"
	"github.com/astrophotograph/scopinator/pkg/status"
	"github.com/astrophotograph/scopinator/pkg/transport"
	"github.com/astrophotograph/scopinator/pkg/wire"
)

// EventKindInternalDisconnected is published on the Client's own event
// bus whenever the control channel is lost, mirroring the device's own
// event naming convention so subscribers can treat it like any other
// kind.
const EventKindInternalDisconnected = "InternalDisconnected"

// EventKindInternalReconnected is published once the control channel
// comes back up after a loss.
const EventKindInternalReconnected = "InternalReconnected"

// Config configures a Client. The zero value is usable; setDefaults
// fills in every unset field.
type Config struct {
	// ConnectTimeout bounds each TCP dial attempt. Default 10s.
	ConnectTimeout time.Duration

	// ReadIdleTimeout disconnects the channel after this much silence.
	// Default 30s.
	ReadIdleTimeout time.Duration

	// CommandTimeout bounds a single Send call's wait for a correlated
	// response. Default 10s.
	CommandTimeout time.Duration

	// WaitForReconnect is the default applied when a per-call option
	// isn't given to Send: if true, Send blocks for ReconnectWaitTimeout
	// waiting for the channel to come back instead of failing fast.
	WaitForReconnect bool

	// ReconnectWaitTimeout bounds how long Send waits for reconnection
	// when WaitForReconnect applies. Default 30s.
	ReconnectWaitTimeout time.Duration

	// MaxReconnectAttempts bounds consecutive reconnect attempts before
	// the Client gives up. 0 (default) retries forever.
	MaxReconnectAttempts int

	// Backoff customizes the reconnect delay curve. Zero value uses the
	// package default (base 500ms, cap 10s).
	Backoff connection.BackoffConfig

	// Correlator tunes the request/response write queue and reaper.
	Correlator correlator.Config

	// EventBus tunes per-subscriber queue size and overflow warnings.
	EventBus eventbus.Config

	// ProtocolLogger receives structured wire-level events from the
	// underlying transport. Optional.
	ProtocolLogger applog.Logger

	// Logger receives human-oriented debug logs about session
	// lifecycle, matching the source session's own optional
	// *slog.Logger. Optional.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 30 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.ReconnectWaitTimeout <= 0 {
		c.ReconnectWaitTimeout = 30 * time.Second
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = applog.NoopLogger{}
	}
}

// SendOptions overrides Config's reconnect-wait defaults for one call.
type SendOptions struct {
	// WaitForReconnectSet, when true, means WaitForReconnect below
	// overrides Config.WaitForReconnect for this call only.
	WaitForReconnectSet bool
	WaitForReconnect    bool
}

// Client is a control-channel session to one device. The zero value is
// not usable; construct with New.
type Client struct {
	cfg Config

	bus    *eventbus.Bus
	status *status.Store

	mu          sync.RWMutex
	endpoint    string
	manager     *connection.Manager
	transport   *transport.Transport
	corr        *correlator.Correlator
	closing     bool
	connWaiters []chan struct{}
}

// New creates a Client not yet connected to any endpoint.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:    cfg,
		bus:    eventbus.New(cfg.EventBus, cfg.ProtocolLogger),
		status: status.NewStore(),
	}
}

// Connect dials endpoint and blocks until the first attempt succeeds or
// fails. Once connected, loss of the channel is retried automatically
// with backoff until Disconnect is called or MaxReconnectAttempts is
// exceeded.
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

// dial is the connection.ConnectFunc: it creates a fresh Transport for
// this attempt, connects it, and (on success) builds a fresh Correlator
// bound to it. Transport lifetimes are per-attempt; the Manager is what
// lives across attempts.
func (c *Client) dial(ctx context.Context) error {
	t := transport.New(transport.Config{
		Mode:            transport.ModeText,
		ConnectTimeout:  c.cfg.ConnectTimeout,
		ReadIdleTimeout: c.cfg.ReadIdleTimeout,
		Logger:          c.cfg.ProtocolLogger,
	}, c)

	c.mu.RLock()
	endpoint := c.endpoint
	c.mu.RUnlock()

	if err := t.Connect(ctx, endpoint); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConnectFailed, err)
	}

	corr := correlator.New(t, c.cfg.Correlator)

	c.mu.Lock()
	c.transport = t
	c.corr = corr
	c.mu.Unlock()

	return nil
}

func (c *Client) handleManagerConnected() {
	c.status.MarkInternalReconnected()
	c.notifyConnWaiters()
	c.bus.Publish(eventbus.Event{Kind: EventKindInternalReconnected, Timestamp: time.Now()})
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("control channel connected", "endpoint", c.endpoint)
	}
	go c.refreshDeviceState()
}

// deviceStateResult is the tolerant shape refreshDeviceState decodes a
// GetDeviceState response into: any field it doesn't recognize is left
// alone rather than rejected.
type deviceStateResult struct {
	Pointing *status.Pointing `json:"pointing"`
	View     *status.View     `json:"view"`
}

// piStatusResult is the shape a PiStatus response decodes into.
type piStatusResult struct {
	BatteryPercent float64 `json:"battery_percent"`
	TemperatureC   float64 `json:"temperature_c"`
	FocusPosition  int     `json:"focus_position"`
}

// refreshDeviceState re-queries GetDeviceState, GetTime, and PiStatus
// after a (re)connect so stale pointing/pi/view fields carried over
// from before the loss are replaced with current values rather than
// left to linger until the next unrelated event arrives. Each query is
// independent and best-effort: a failure or undecodable result is
// logged and otherwise ignored, it never tears the channel back down.
func (c *Client) refreshDeviceState() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()

	if resp, err := c.Send(ctx, command.Simple{MethodName: "GetDeviceState"}); err != nil {
		c.logRefreshError("GetDeviceState", err)
	} else {
		var ds deviceStateResult
		if err := json.Unmarshal(resp.Result, &ds); err != nil {
			c.logRefreshError("GetDeviceState", err)
		} else {
			if ds.Pointing != nil {
				c.status.SetPointing(*ds.Pointing)
			}
			if ds.View != nil {
				c.status.SetView(*ds.View)
			}
		}
	}

	if _, err := c.Send(ctx, command.Simple{MethodName: "GetTime"}); err != nil {
		c.logRefreshError("GetTime", err)
	}

	if resp, err := c.Send(ctx, command.Simple{MethodName: "PiStatus"}); err != nil {
		c.logRefreshError("PiStatus", err)
	} else {
		var pi piStatusResult
		if err := json.Unmarshal(resp.Result, &pi); err != nil {
			c.logRefreshError("PiStatus", err)
		} else {
			c.status.SetPi(status.Pi{
				BatteryPercent: pi.BatteryPercent,
				TemperatureC:   pi.TemperatureC,
				FocusPosition:  pi.FocusPosition,
			})
		}
	}
}

func (c *Client) logRefreshError(method string, err error) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("control: post-reconnect refresh failed", "method", method, "error", err)
	}
}

func (c *Client) handleManagerDisconnected() {
	c.status.MarkInternalDisconnected()

	c.mu.Lock()
	if c.corr != nil {
		c.corr.Reset()
	}
	c.mu.Unlock()

	c.bus.Publish(eventbus.Event{Kind: EventKindInternalDisconnected, Timestamp: time.Now()})
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("control channel lost", "endpoint", c.endpoint)
	}
}

func (c *Client) handleReconnectFailed() {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn("control channel gave up reconnecting", "endpoint", c.endpoint)
	}
}

// Disconnect cancels the reader, drains the correlator (completing all
// pending Send calls with Cancelled), stops the reaper and the
// reconnect loop. The Client may be reused with another Connect call
// afterward.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	manager := c.manager
	tr := c.transport
	corr := c.corr
	if manager == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.manager = nil
	c.transport = nil
	c.corr = nil
	c.mu.Unlock()

	manager.Close()

	var closeErr error
	if tr != nil {
		closeErr = tr.Close()
	}
	if corr != nil {
		corr.Close()
	}
	return closeErr
}

// Send validates the control channel is usable, serializes cmd, submits
// it to the correlator with Config.CommandTimeout, and maps a device
// error payload into errs.ErrCommandRejected.
func (c *Client) Send(ctx context.Context, cmd command.Command) (*wire.IncomingResponse, error) {
	return c.SendWithOptions(ctx, cmd, SendOptions{})
}

// SendWithOptions is Send with a per-call override of the
// wait_for_reconnect behavior.
func (c *Client) SendWithOptions(ctx context.Context, cmd command.Command, opts SendOptions) (*wire.IncomingResponse, error) {
	waitForReconnect := c.cfg.WaitForReconnect
	if opts.WaitForReconnectSet {
		waitForReconnect = opts.WaitForReconnect
	}

	c.mu.RLock()
	manager := c.manager
	c.mu.RUnlock()
	if manager == nil {
		return nil, errs.ErrDisconnected
	}

	if !manager.IsConnected() {
		if !waitForReconnect {
			return nil, errs.ErrDisconnected
		}
		if err := c.waitConnected(ctx, c.cfg.ReconnectWaitTimeout); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	corr := c.corr
	c.mu.RUnlock()
	if corr == nil {
		return nil, errs.ErrDisconnected
	}

	return corr.Issue(ctx, cmd.Method(), cmd.Params(), c.cfg.CommandTimeout)
}

// waitConnected blocks until the channel is connected or timeout/ctx
// elapses first.
func (c *Client) waitConnected(ctx context.Context, timeout time.Duration) error {
	c.mu.RLock()
	manager := c.manager
	c.mu.RUnlock()
	if manager == nil {
		return errs.ErrDisconnected
	}
	if manager.IsConnected() {
		return nil
	}

	ch := make(chan struct{})
	c.mu.Lock()
	c.connWaiters = append(c.connWaiters, ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return errs.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) notifyConnWaiters() {
	c.mu.Lock()
	waiters := c.connWaiters
	c.connWaiters = nil
	c.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Subscribe registers handler for events of the given kind (or
// eventbus.KindAll). The returned Subscription is also how the caller
// unsubscribes.
func (c *Client) Subscribe(kind string, handler eventbus.Handler) *eventbus.Subscription {
	return c.bus.Subscribe(kind, handler)
}

// Status returns a copy of the Client's current device status view.
func (c *Client) Status() status.State {
	return c.status.Snapshot()
}

// StatusStore returns the Client's underlying Store, so a paired
// imaging.Client can be constructed to update the same status view
// rather than keeping its own disjoint copy.
func (c *Client) StatusStore() *status.Store {
	return c.status
}

// Close tears down the Client entirely: disconnects if connected and
// stops the event bus, so existing subscriptions receive no further
// events. Connect does not check whether Close has been called.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.bus.Close()
	return err
}

// ---- transport.Handler implementation ----

// OnLine classifies and routes one text-protocol line: responses go to
// the correlator, events go to the bus, anything else is logged and
// dropped.
func (c *Client) OnLine(line []byte) {
	c.status.TouchControlLastSeen()

	class, err := wire.Classify(line)
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Debug("control: malformed line dropped", "error", err)
		}
		return
	}

	switch class {
	case wire.ClassResponse:
		resp, err := wire.DecodeResponse(line)
		if err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Debug("control: undecodable response dropped", "error", err)
			}
			return
		}
		c.mu.RLock()
		corr := c.corr
		c.mu.RUnlock()
		if corr != nil {
			if err := corr.HandleResponse(resp); err != nil && c.cfg.Logger != nil {
				c.cfg.Logger.Debug("control: unmatched response", "id", resp.ID, "error", err)
			}
		}

	case wire.ClassEvent:
		evt, err := wire.DecodeEvent(line)
		if err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Debug("control: undecodable event dropped", "error", err)
			}
			return
		}
		c.bus.Publish(eventbus.Event{Kind: evt.Kind, Timestamp: time.Now(), Payload: evt.Payload})

	default:
		if c.cfg.Logger != nil {
			c.cfg.Logger.Debug("control: unclassified line dropped", "line", string(line))
		}
	}
}

// OnFrame is never invoked: Client always runs the transport in
// ModeText.
func (c *Client) OnFrame(header *wire.Header, payload []byte) {}

// OnStateChange notifies the connection.Manager of an unexpected loss.
// A loss triggered by our own Disconnect is not reported, since
// Disconnect already tears the Manager down directly.
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
		c.cfg.Logger.Debug("control: transport error", "error", err)
	}
}

var _ transport.Handler = (*Client)(nil)
