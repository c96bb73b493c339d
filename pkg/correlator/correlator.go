package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrophotograph/scopinator/pkg/errs"
	"github.com/astrophotograph/scopinator/pkg/wire"
)

// ErrUnmatchedResponse is returned by HandleResponse when no pending
// entry exists for the response's id (a duplicate, a very late arrival
// after the reaper already timed it out, or a protocol violation).
// Non-fatal: the caller should count it and keep reading.
var ErrUnmatchedResponse = errors.New("response does not match any pending request")

// Sender writes an encoded request envelope to the transport.
type Sender interface {
	Send(data []byte) error
}

// Config tunes queueing and timeout behavior.
type Config struct {
	// WriteQueueSize bounds how many encoded requests may be queued for
	// the writer goroutine before Issue starts blocking. Default 256.
	WriteQueueSize int

	// WriteQueueTimeout bounds how long Issue blocks on a full write
	// queue before failing with ErrOverloaded. Default 5s.
	WriteQueueTimeout time.Duration

	// ReaperInterval is the tick period for scanning pending entries
	// for expired deadlines. Default 100ms.
	ReaperInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = 256
	}
	if c.WriteQueueTimeout <= 0 {
		c.WriteQueueTimeout = 5 * time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 100 * time.Millisecond
	}
}

// Outcome is what a pending request resolves to.
type Outcome struct {
	Response *wire.IncomingResponse
	Err      error
}

type pendingRequest struct {
	id        uint64
	createdAt time.Time
	deadline  time.Time
	resultCh  chan Outcome
}

func (p *pendingRequest) complete(o Outcome) {
	select {
	case p.resultCh <- o:
	default:
		// Already completed (e.g. raced with the reaper); drop.
	}
}

type writeJob struct {
	data []byte
	done chan error
}

// Correlator allocates request ids, tracks in-flight requests, and
// resolves them from responses, a reaper tick, or a session-level
// Reset/Close.
type Correlator struct {
	sender Sender
	cfg    Config

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	closed  bool

	writeCh chan writeJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Correlator that writes encoded requests via sender.
func New(sender Sender, cfg Config) *Correlator {
	cfg.setDefaults()
	c := &Correlator{
		sender:  sender,
		cfg:     cfg,
		pending: make(map[uint64]*pendingRequest),
		writeCh: make(chan writeJob, cfg.WriteQueueSize),
		stopCh:  make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writerLoop()
	go c.reaperLoop()
	return c
}

// Issue encodes method/params, allocates an id, and blocks until the
// response arrives, the deadline (timeout) passes, the session resets
// or closes, or ctx is cancelled.
func (c *Correlator) Issue(ctx context.Context, method string, params any, timeout time.Duration) (*wire.IncomingResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.ErrDisconnected
	}
	c.mu.Unlock()

	id := atomic.AddUint64(&c.nextID, 1)

	data, err := wire.EncodeRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	now := time.Now()
	entry := &pendingRequest{
		id:        id,
		createdAt: now,
		deadline:  now.Add(timeout),
		resultCh:  make(chan Outcome, 1),
	}

	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueueWrite(ctx, data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-entry.resultCh:
		return outcome.Response, outcome.Err
	}
}

// enqueueWrite hands data to the writer goroutine, enforcing
// write_queue_timeout if the queue is full.
func (c *Correlator) enqueueWrite(ctx context.Context, data []byte) error {
	job := writeJob{data: data, done: make(chan error, 1)}

	timer := time.NewTimer(c.cfg.WriteQueueTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- job:
	case <-timer.C:
		return errs.ErrOverloaded
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return errs.ErrCancelled
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return errs.ErrCancelled
	}
}

func (c *Correlator) writerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case job := <-c.writeCh:
			job.done <- c.sender.Send(job.data)
		}
	}
}

func (c *Correlator) reaperLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.reapExpired(now)
		}
	}
}

func (c *Correlator) reapExpired(now time.Time) {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, e := range c.pending {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		e.complete(Outcome{Err: errs.ErrTimeout})
	}
}

// HandleResponse delivers a decoded response to its matching pending
// request. Returns ErrUnmatchedResponse if no such request exists.
func (c *Correlator) HandleResponse(resp *wire.IncomingResponse) error {
	c.mu.Lock()
	entry, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return ErrUnmatchedResponse
	}

	outcome := Outcome{Response: resp}
	if resp.Err != nil {
		outcome.Err = fmt.Errorf("%w: %s", errs.ErrCommandRejected, resp.Err.Error())
		outcome.Response = resp
	}
	entry.complete(outcome)
	return nil
}

// Reset completes every pending request with ErrDisconnected and
// restarts the id counter from zero, so the next Issue call allocates
// id 1 again. Called when the owning connection is lost: outstanding
// requests are always failed before ids start over, so callers never
// observe two different requests sharing the same id.
func (c *Correlator) Reset() {
	c.drainPending(errs.ErrDisconnected)
	atomic.StoreUint64(&c.nextID, 0)
}

// Close drains all pending requests with ErrCancelled (caller-initiated
// shutdown, distinct from a network-induced Reset) and stops the writer
// and reaper goroutines. Idempotent.
func (c *Correlator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.drainPending(errs.ErrCancelled)
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

func (c *Correlator) drainPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, e := range pending {
		e.complete(Outcome{Err: err})
	}
}

// PendingCount reports how many requests are currently in flight.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
