package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/astrophotograph/scopinator/pkg/log"
	"github.com/astrophotograph/scopinator/pkg/wire"
)

// Mode selects which framing discipline a Transport speaks.
type Mode uint8

const (
	// ModeText frames messages as newline-delimited lines, used on the
	// control channel.
	ModeText Mode = iota

	// ModeBinary frames messages with the fixed 80-byte header defined
	// in pkg/wire, used on the imaging channel.
	ModeBinary
)

func (m Mode) String() string {
	if m == ModeBinary {
		return "binary"
	}
	return "text"
}

// ConnectionState tracks a single connection attempt's lifecycle.
// Reconnection across attempts is layered on top by
// pkg/connection.Manager; a Transport only ever lives through one
// Disconnected -> Connecting -> Connected -> Closing run.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Errors surfaced by Transport.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
)

// Config configures a Transport.
type Config struct {
	// Mode selects line or binary-header framing.
	Mode Mode

	// ConnectTimeout bounds the TCP dial. Default 10s.
	ConnectTimeout time.Duration

	// ReadIdleTimeout is the maximum time with no byte seen on the
	// connection before it is treated as disconnected. Default 30s.
	ReadIdleTimeout time.Duration

	// MaxFrameSize bounds a single binary frame's total size, header
	// plus payload (ModeBinary only). Default wire.DefaultMaxFrame.
	MaxFrameSize uint32

	// Logger receives transport-layer frame/state events. Optional;
	// defaults to log.NoopLogger.
	Logger log.Logger
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
	if c.Logger == nil {
		c.Logger = log.NoopLogger{}
	}
}

// Handler receives transport events. Exactly one of OnLine/OnFrame is
// called per received message, depending on the Transport's Mode.
type Handler interface {
	// OnLine is called with one line of the text protocol, with the
	// trailing newline (and any preceding CR) already stripped.
	OnLine(line []byte)

	// OnFrame is called with one decoded binary frame header and its
	// payload.
	OnFrame(header *wire.Header, payload []byte)

	// OnStateChange is called whenever the connection state changes.
	OnStateChange(oldState, newState ConnectionState)

	// OnError is called for I/O and framing errors. The transport
	// force-closes itself immediately afterward.
	OnError(err error)
}

// Transport owns one TCP connection to a device and frames its byte
// stream according to Mode. It does not reconnect; pkg/connection.Manager
// composes repeated Transports with backoff for that.
type Transport struct {
	cfg     Config
	handler Handler

	connID string

	mu      sync.RWMutex
	conn    net.Conn
	lineR   *LineReader
	lineW   *LineWriter
	frameR  *wire.FrameReader
	frameW  *wire.FrameWriter
	writeMu sync.Mutex

	state     atomic.Int32
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Transport in the given mode, not yet connected.
func New(cfg Config, handler Handler) *Transport {
	cfg.setDefaults()
	t := &Transport{cfg: cfg, handler: handler}
	t.state.Store(int32(StateDisconnected))
	return t
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

// ConnID returns the UUID assigned to the current (or most recent)
// connection attempt.
func (t *Transport) ConnID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connID
}

// Connect dials addr and starts the read loop. It blocks until the
// dial (and, for binary mode, nothing further) completes or cfg.ConnectTimeout
// elapses.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	if !t.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	t.notifyStateChange(StateDisconnected, StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		t.state.Store(int32(StateDisconnected))
		t.notifyStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	connID := uuid.New().String()

	t.mu.Lock()
	t.conn = conn
	t.connID = connID
	if t.cfg.Mode == ModeBinary {
		t.frameR = wire.NewFrameReaderWithMax(conn, t.cfg.MaxFrameSize)
		t.frameW = wire.NewFrameWriter(conn)
	} else {
		t.lineR = NewLineReader(conn, t.cfg.Logger, connID)
		t.lineW = NewLineWriter(conn, t.cfg.Logger, connID)
	}
	t.mu.Unlock()

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.done = make(chan struct{})
	t.closeOnce = sync.Once{}

	go t.readLoop()

	t.state.Store(int32(StateConnected))
	t.notifyStateChange(StateConnecting, StateConnected)
	t.logStateChange("CONNECTING", "CONNECTED")

	return nil
}

// Send writes one message. In ModeText, data is a single line (without
// a trailing newline, which Send appends); in ModeBinary, data is the
// frame payload described by header.
func (t *Transport) Send(data []byte) error {
	return t.SendFrame(nil, data)
}

// SendFrame writes a binary frame (ModeBinary) or a text line
// (ModeText, where header is ignored).
func (t *Transport) SendFrame(header *wire.Header, data []byte) error {
	if t.State() != StateConnected {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	lineW, frameW := t.lineW, t.frameW
	t.mu.RUnlock()

	if t.cfg.Mode == ModeBinary {
		if frameW == nil || header == nil {
			return ErrNotConnected
		}
		return frameW.WriteFrame(header, data)
	}

	if lineW == nil {
		return ErrNotConnected
	}
	return lineW.WriteLine(data)
}

// Close gracefully tears down the connection, closing the socket and
// waiting for the read loop to exit.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		current := t.State()
		if current == StateDisconnected {
			return
		}
		t.state.Store(int32(StateClosing))
		t.notifyStateChange(current, StateClosing)

		if t.cancel != nil {
			t.cancel()
		}

		t.mu.Lock()
		if t.conn != nil {
			err = t.conn.Close()
		}
		t.mu.Unlock()

		if t.done != nil {
			<-t.done
		}

		t.state.Store(int32(StateDisconnected))
		t.notifyStateChange(StateClosing, StateDisconnected)
	})
	return err
}

// LocalAddr returns the local network address, or nil if not connected.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address, or nil if not connected.
func (t *Transport) RemoteAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.RemoteAddr()
	}
	return nil
}

// readLoop reads frames/lines until EOF, an I/O error, or
// read_idle_timeout elapses with no byte seen.
func (t *Transport) readLoop() {
	defer close(t.done)

	t.mu.RLock()
	conn := t.conn
	mode := t.cfg.Mode
	t.mu.RUnlock()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(t.cfg.ReadIdleTimeout))

		if mode == ModeBinary {
			t.mu.RLock()
			frameR := t.frameR
			t.mu.RUnlock()

			header, payload, err := frameR.ReadFrame()
			if err != nil {
				t.handleReadError(err)
				return
			}
			t.handler.OnFrame(header, payload)
			continue
		}

		t.mu.RLock()
		lineR := t.lineR
		t.mu.RUnlock()

		line, err := lineR.ReadLine()
		if err != nil {
			t.handleReadError(err)
			return
		}
		t.handler.OnLine(line)
	}
}

func (t *Transport) handleReadError(err error) {
	if t.State() == StateClosing || t.ctx.Err() != nil {
		return // expected during close
	}
	t.handler.OnError(fmt.Errorf("read error: %w", err))
	t.forceClose()
}

// forceClose tears the connection down without waiting for an
// in-flight reader; used when the read loop itself detects failure.
func (t *Transport) forceClose() {
	t.closeOnce.Do(func() {
		current := t.State()

		if t.cancel != nil {
			t.cancel()
		}

		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()

		t.state.Store(int32(StateDisconnected))
		if current != StateDisconnected {
			t.notifyStateChange(current, StateDisconnected)
		}
	})
}

func (t *Transport) notifyStateChange(oldState, newState ConnectionState) {
	if t.handler != nil {
		t.handler.OnStateChange(oldState, newState)
	}
}

func (t *Transport) logStateChange(oldState, newState string) {
	t.cfg.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Category:     log.CategoryState,
		Channel:      modeChannel(t.cfg.Mode),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func modeChannel(m Mode) log.Channel {
	if m == ModeBinary {
		return log.ChannelImaging
	}
	return log.ChannelControl
}
