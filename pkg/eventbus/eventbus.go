package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/astrophotograph/scopinator/pkg/log"
)

// KindAll subscribes to every published event regardless of kind.
const KindAll = "*"

// Event is a single device event: a kind tag, when it happened, and an
// opaque payload (already decoded by the wire-layer codec).
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Handler processes one delivered event. It runs on the subscription's
// own goroutine; a panic inside it is recovered and does not affect
// other subscribers.
type Handler func(Event)

// Config tunes per-subscriber queueing.
type Config struct {
	// QueueSize bounds each subscriber's delivery queue. Default 64.
	QueueSize int

	// WarnInterval is the minimum time between overflow warnings logged
	// for a single subscriber. Default 10s.
	WarnInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = 10 * time.Second
	}
}

// Bus fans out published events to per-kind and wildcard subscribers.
type Bus struct {
	cfg    Config
	logger log.Logger

	mu      sync.RWMutex
	byKind  map[string][]*Subscription
	nextID  uint64
	closed  bool
}

// New creates a Bus. logger may be nil (defaults to log.NoopLogger{}).
func New(cfg Config, logger log.Logger) *Bus {
	cfg.setDefaults()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Bus{
		cfg:    cfg,
		logger: logger,
		byKind: make(map[string][]*Subscription),
	}
}

// Subscribe registers handler for events of kind (or every event, if
// kind is KindAll). The subscription owns its own goroutine and queue
// until Unsubscribe is called.
func (b *Bus) Subscribe(kind string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      atomic.AddUint64(&b.nextID, 1),
		kind:    kind,
		bus:     b,
		handler: handler,
		queue:   make(chan Event, b.cfg.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(b.cfg.WarnInterval), 1),
	}

	b.mu.Lock()
	b.byKind[kind] = append(b.byKind[kind], sub)
	b.mu.Unlock()

	go sub.run()
	return sub
}

// Publish delivers e to every subscriber registered for e.Kind plus
// every KindAll wildcard subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.byKind[e.Kind])+len(b.byKind[KindAll]))
	targets = append(targets, b.byKind[e.Kind]...)
	if e.Kind != KindAll {
		targets = append(targets, b.byKind[KindAll]...)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(e)
	}
}

// Close unsubscribes every subscriber and stops their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := make([]*Subscription, 0)
	for _, subs := range b.byKind {
		all = append(all, subs...)
	}
	b.byKind = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.byKind[sub.kind]
	for i, s := range subs {
		if s == sub {
			b.byKind[sub.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.byKind[sub.kind]) == 0 {
		delete(b.byKind, sub.kind)
	}
}

// Subscription is one registered handler with its own bounded queue.
type Subscription struct {
	id      uint64
	kind    string
	bus     *Bus
	handler Handler

	queue   chan Event
	limiter *rate.Limiter

	dropped atomic.Uint64

	deliverMu sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
}

// Dropped reports how many events have been dropped for this
// subscriber due to queue overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe removes the subscription from its Bus and stops its
// goroutine. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// deliver enqueues e, dropping the oldest queued event first if the
// queue is already full.
func (s *Subscription) deliver(e Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	select {
	case s.queue <- e:
		return
	default:
	}

	overflowed := false
	select {
	case <-s.queue:
		overflowed = true
	default:
	}

	select {
	case s.queue <- e:
	default:
		overflowed = true
	}

	if overflowed {
		s.dropped.Add(1)
		s.warnOverflow()
	}
}

func (s *Subscription) warnOverflow() {
	if !s.limiter.Allow() {
		return
	}
	s.bus.logger.Log(log.Event{
		Timestamp: time.Now(),
		Category:  log.CategoryEventBus,
		EventBus: &log.EventBusEvent{
			Kind:    s.kind,
			Dropped: true,
			Subs:    int(s.dropped.Load()),
		},
	})
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			s.safeInvoke(e)
		}
	}
}

func (s *Subscription) safeInvoke(e Event) {
	defer func() {
		recover() // a handler panic must never affect other subscribers
	}()
	s.handler(e)
}
