// Package events carries swap lifecycle notifications from the Coordinator
// and Control Surface to in-process subscribers (metrics, logging).
// Delivery is asynchronous and best-effort: the Registry, not the bus, is
// the source of truth for swap state, so a dropped event loses telemetry,
// never funds.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes one event. Handlers run on the bus's dispatch goroutine
// and must not block; anything slow belongs behind the handler's own queue.
type Handler func(ctx context.Context, event Event)

// Bus is the in-process pub/sub bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType]map[string]Handler

	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// Subscription identifies one registered handler so it can be cancelled.
type Subscription struct {
	bus *Bus
	typ EventType
	id  string
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.typ]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.typ)
		}
	}
}

// NewBus starts a bus whose queue holds up to queueDepth undispatched
// events.
func NewBus(logger *zap.Logger, queueDepth int) *Bus {
	b := &Bus{
		subs:   make(map[EventType]map[string]Handler),
		queue:  make(chan Event, queueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.Named("events"),
	}
	go b.run()
	return b
}

// Subscribe registers fn for every published event of type typ.
func (b *Bus) Subscribe(typ EventType, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[string]Handler)
	}
	b.subs[typ][id] = fn

	return &Subscription{bus: b, typ: typ, id: id}
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped and an error returned; the publisher (mid-swap, between
// confirmed transfers) must never stall on telemetry.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.stop:
		return fmt.Errorf("events: bus closed")
	default:
	}
	select {
	case b.queue <- event:
		return nil
	default:
		b.logger.Warn("event queue full, dropping",
			zap.String("event_type", string(event.Type())))
		return fmt.Errorf("events: queue full")
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			// Drain whatever was queued before Close.
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		case event := <-b.queue:
			b.dispatch(event)
		}
	}
}

// dispatch fans one event out to a snapshot of the current subscribers. A
// panicking handler is logged and skipped; it must not take down the
// dispatch loop shared by every other subscriber.
func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type()]))
	for _, fn := range b.subs[event.Type()] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event_type", string(event.Type())),
						zap.Any("panic", r))
				}
			}()
			fn(context.Background(), event)
		}()
	}
}

// Close stops the dispatch loop after draining queued events, or returns
// early with ctx's error if draining takes too long.
func (b *Bus) Close(ctx context.Context) error {
	b.once.Do(func() { close(b.stop) })
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many events are queued but not yet dispatched.
func (b *Bus) Pending() int {
	return len(b.queue)
}
