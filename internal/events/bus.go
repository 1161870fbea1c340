package events

import (
	"sync"

	"go.uber.org/zap"
)

// Publisher is what processors depend on. Publish must not block.
type Publisher interface {
	Publish(events ...Event)
}

// Bus fans events out to subscribers. Each subscriber has its own buffer;
// when it is full the event is dropped for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	onDrop func(subscriber string)
}

type Subscription struct {
	name string
	ch   chan Event
	bus  *Bus
	once sync.Once
}

var _ Publisher = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// OnDrop registers a callback invoked for every dropped event
func (b *Bus) OnDrop(fn func(subscriber string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &Subscription{name: name, ch: make(chan Event, buffer), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) Publish(events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, event := range events {
		for sub := range b.subs {
			select {
			case sub.ch <- event:
			default:
				zap.L().Warn("Event dropped, subscriber buffer full",
					zap.String("subscriber", sub.name),
					zap.String("type", string(event.Type)),
					zap.String("owner_id", event.OwnerId))
				if b.onDrop != nil {
					b.onDrop(sub.name)
				}
			}
		}
	}
}

// Close closes every subscription channel
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = nil
}

// Events is closed when the subscription or the bus is closed
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Name() string {
	return s.name
}

func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.subs != nil {
		delete(s.bus.subs, s)
	}
	s.once.Do(func() { close(s.ch) })
}
