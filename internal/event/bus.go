package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/logging"
)

// DefaultQueueSize is the per-subscriber queue bound used when none is
// configured.
const DefaultQueueSize = 256

// Bus fans each published event out to every subscriber registered at the
// time of publish. Publish never blocks: each subscriber owns a bounded
// queue and, when it is full, the oldest queued event is dropped to make
// room for the new one.
type Bus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool

	published atomic.Uint64
	log       zerolog.Logger
}

func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		subs:      make(map[*Subscriber]struct{}),
		log:       logging.Component("event"),
	}
}

// Subscribe registers a new subscriber whose queue starts empty. Events
// published before this call are never delivered to it. Subscribing to a
// closed bus returns an already-closed subscriber.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		bus: b,
		ch:  make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish stamps e with an ID and time (unless already set) and delivers it
// to every current subscriber. It returns the stamped event.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	for s := range b.subs {
		s.push(e)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	return e
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of events published since creation.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close closes every subscriber. Later publishes are discarded and later
// subscribers are returned closed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.shutdown()
	}
}

func (b *Bus) remove(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscriber is a single consumer's view of the bus. No two consumers share
// a queue. Close must be called when the consumer goes away.
type Subscriber struct {
	bus *Bus
	ch  chan Event

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive side of the subscriber's queue. The channel is
// closed when the subscriber or the bus is closed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close deregisters the subscriber and releases its queue. Safe to call more
// than once.
func (s *Subscriber) Close() {
	s.bus.remove(s)
	if s.shutdown() && s.Dropped() > 0 {
		s.bus.log.Debug().Uint64("dropped", s.Dropped()).Msg("subscriber closed with dropped events")
	}
}

func (s *Subscriber) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// push enqueues e, evicting the oldest queued event while the queue is full.
// The consumer may drain concurrently, so the eviction receive is also
// non-blocking.
func (s *Subscriber) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
