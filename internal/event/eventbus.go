package event

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// subscription is one named consumer. A nil want set accepts every type.
type subscription struct {
	ch      chan *Event
	want    map[EventType]struct{}
	dropped atomic.Uint64
}

func (s *subscription) accepts(t EventType) bool {
	if s.want == nil {
		return true
	}
	_, ok := s.want[t]
	return ok
}

// Bus fans controller, reporter and sampler events out to the exporters.
// Publishing never blocks the analysis path: a subscriber whose buffer is
// full loses the event and its drop counter goes up.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed atomic.Bool

	published atomic.Uint64
}

// NewBus creates a bus whose subscribers each buffer bufferSize events.
// A nil logger is replaced with a no-op logger.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultEventBusBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:     logger,
		bufferSize: bufferSize,
		subs:       make(map[string]*subscription),
	}
}

// Subscribe registers name for every event type. The channel is closed by
// Close.
func (b *Bus) Subscribe(name string) <-chan *Event {
	return b.SubscribeTypes(name)
}

// SubscribeTypes registers name for the listed types only. With no types it
// behaves like Subscribe. Filtered-out events do not count as drops.
func (b *Bus) SubscribeTypes(name string, types ...EventType) <-chan *Event {
	sub := &subscription{ch: make(chan *Event, b.bufferSize)}
	if len(types) > 0 {
		sub.want = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.want[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[name] = sub
	b.mu.Unlock()

	fields := []zap.Field{zap.String("name", name), zap.Int("buffer_size", b.bufferSize)}
	if len(types) > 0 {
		fields = append(fields, zap.Stringers("types", types))
	}
	b.logger.Info("Event subscriber registered", fields...)
	return sub.ch
}

// Publish hands e to every interested subscriber without blocking.
// Safe to call on a nil Bus, which discards the event.
func (b *Bus) Publish(e *Event) {
	if b == nil || b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	// Close may have run between the check above and the lock.
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs {
		if !sub.accepts(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Buffered events stay readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}
	for name, sub := range b.subs {
		close(sub.ch)
		b.logger.Debug("Event subscriber closed", zap.String("name", name))
	}
}

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Published           uint64
	DroppedBySubscriber map[string]uint64
	QueueDepth          map[string]int
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	s := Stats{
		Published:           b.published.Load(),
		DroppedBySubscriber: make(map[string]uint64),
		QueueDepth:          make(map[string]int),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, sub := range b.subs {
		s.QueueDepth[name] = len(sub.ch)
		s.DroppedBySubscriber[name] = sub.dropped.Load()
	}
	return s
}

// Dropped is the drop total across subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, sub := range b.subs {
		total += sub.dropped.Load()
	}
	return total
}

// Published counts events accepted before Close.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

