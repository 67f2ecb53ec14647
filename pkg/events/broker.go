package events

import (
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth when the broker
// is constructed with a non-positive value.
const DefaultSubscriberBuffer = 64

// Broker is the in-process pub/sub hub. Publishers (the manager) and
// subscribers (WebSocket connections, tests) are decoupled by bounded
// per-subscriber queues. Publish never blocks: a full queue drops its
// oldest event to keep the pipeline live.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}
	buffer   int
	closed   bool
}

// subscriber owns one bounded queue. sendMu serializes concurrent
// publishers on the queue so drop-oldest stays race-free.
type subscriber struct {
	events chan Event
	sendMu sync.Mutex
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// Subscription is a live per-session event feed. Close it when done or the
// broker retains the queue until the broker itself shuts down.
type Subscription struct {
	events <-chan Event
	cancel func()
	once   sync.Once
}

// Events returns the subscriber's event channel. It is closed when the
// subscription is cancelled or the broker shuts down.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() { s.once.Do(s.cancel) }

// NewBroker creates a broker with the given per-subscriber queue depth.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		sessions: make(map[string]map[*subscriber]struct{}),
		buffer:   buffer,
	}
}

// Subscribe registers a new subscriber for a session's events.
func (b *Broker) Subscribe(sessionID string) *Subscription {
	sub := &subscriber{events: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return &Subscription{events: sub.events, cancel: func() {}}
	}
	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.sessions[sessionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		events: sub.events,
		cancel: func() {
			b.mu.Lock()
			if set, ok := b.sessions[sessionID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.sessions, sessionID)
				}
			}
			b.mu.Unlock()
			sub.close()
		},
	}
}

// Publish delivers an event to every subscriber of its session. Best-effort
// and non-blocking: a subscriber whose queue is full loses its oldest
// queued event to make room.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	set := b.sessions[evt.SessionID]
	subs := make([]*subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	eventsPublished.WithLabelValues(evt.Type).Inc()

	for _, sub := range subs {
		sub.sendMu.Lock()
		select {
		case sub.events <- evt:
		default:
			// Queue full. Drop the oldest event, then queue this one.
			select {
			case dropped := <-sub.events:
				eventsDropped.WithLabelValues(dropped.Type).Inc()
				slog.Debug("Dropped oldest event for slow subscriber",
					"session_id", evt.SessionID, "dropped_type", dropped.Type)
			default:
			}
			select {
			case sub.events <- evt:
			default:
				eventsDropped.WithLabelValues(evt.Type).Inc()
			}
		}
		sub.sendMu.Unlock()
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// Close shuts the broker down and closes every subscriber channel.
// Subsequent publishes are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.sessions {
		for sub := range set {
			sub.close()
		}
	}
	b.sessions = make(map[string]map[*subscriber]struct{})
}
