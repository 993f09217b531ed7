// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/metrics"
)

// DefaultHeartbeatInterval is how often the keep-alive broadcast fires.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultBuffer is the per-subscription channel capacity. Events beyond it
// are dropped for that subscription rather than buffered unbounded.
const DefaultBuffer = 64

// Audience distinguishes the two subscriber classes.
type Audience string

const (
	AudienceSession Audience = "session"
	AudienceWaiter  Audience = "waiter"
)

type targetKey struct {
	audience Audience
	id       string
}

// Subscription is one open streaming connection's view of the hub. Events
// arrive on C in publish order; Close is idempotent and releases the
// subscription exactly once.
type Subscription struct {
	id        string
	target    targetKey
	createdAt time.Time
	ch        chan Event
	done      chan struct{}
	hub       *Hub
	closeOnce sync.Once
}

// ID returns the connection identifier of this subscription.
func (s *Subscription) ID() string { return s.id }

// C returns the event channel. The channel is never closed; consumers must
// also select on Done.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription is released, by either side.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the subscription and removes it from the hub bookkeeping.
// Safe to call from any goroutine, any number of times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// Counts reports currently open streaming connections.
type Counts struct {
	Sessions int `json:"sessions"`
	Waiters  int `json:"waiters"`
	Total    int `json:"total"`
}

// Hub is the process-local notification bus. It is constructed once at
// startup and injected everywhere; events published here reach only
// connections held open by this process (see Relay for the multi-instance
// bridge). Publish never blocks: a slow consumer loses events instead of
// stalling the publisher or its peers.
type Hub struct {
	buffer int
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[targetKey][]*Subscription
	closed bool

	// forward, when set, mirrors locally published events to the relay.
	forward func(Event)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer overrides the per-subscription channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates an empty notification hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer: DefaultBuffer,
		logger: log.WithComponent("bus"),
		subs:   make(map[targetKey][]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubscribeSession opens a subscription for events addressed to a diner
// session. Multiple concurrent subscriptions for the same id are independent
// and each receives its own copy of every event.
func (h *Hub) SubscribeSession(sessionID string) *Subscription {
	return h.subscribe(targetKey{audience: AudienceSession, id: sessionID})
}

// SubscribeWaiter opens a subscription for events addressed to a waiter.
func (h *Hub) SubscribeWaiter(waiterID string) *Subscription {
	return h.subscribe(targetKey{audience: AudienceWaiter, id: waiterID})
}

func (h *Hub) subscribe(key targetKey) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		target:    key,
		createdAt: time.Now(),
		ch:        make(chan Event, h.buffer),
		done:      make(chan struct{}),
		hub:       h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		// Shutdown already happened; hand back a released subscription so the
		// caller's stream loop exits immediately. Release through closeOnce so
		// a later Close stays a no-op: this subscription was never registered,
		// so remove must not run either.
		sub.closeOnce.Do(func() { close(sub.done) })
		return sub
	}
	h.subs[key] = append(h.subs[key], sub)
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(string(key.audience)).Inc()
	h.logger.Debug().
		Str(log.FieldConnectionID, sub.id).
		Str(log.FieldTarget, key.id).
		Str("audience", string(key.audience)).
		Msg("stream subscribed")
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	list := h.subs[sub.target]
	out := list[:0]
	for _, s := range list {
		if s != sub {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(h.subs, sub.target)
	} else {
		h.subs[sub.target] = out
	}
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(string(sub.target.audience)).Dec()
	h.logger.Debug().
		Str(log.FieldConnectionID, sub.id).
		Str(log.FieldTarget, sub.target.id).
		Msg("stream unsubscribed")
}

// PublishToSession fans the event out to every open subscription of the
// session and returns the number of deliveries. Zero open subscriptions
// means the event is dropped silently: there is no queue and no replay.
func (h *Hub) PublishToSession(sessionID string, ev Event) int {
	ev.SessionID = sessionID
	ev.WaiterID = ""
	return h.publish(targetKey{audience: AudienceSession, id: sessionID}, ev, true)
}

// PublishToWaiter fans the event out to every open subscription of the waiter.
func (h *Hub) PublishToWaiter(waiterID string, ev Event) int {
	ev.WaiterID = waiterID
	ev.SessionID = ""
	return h.publish(targetKey{audience: AudienceWaiter, id: waiterID}, ev, true)
}

// deliverLocal injects an event received from the relay without mirroring it
// back, which would echo between instances.
func (h *Hub) deliverLocal(ev Event) int {
	if ev.SessionID != "" {
		return h.publish(targetKey{audience: AudienceSession, id: ev.SessionID}, ev, false)
	}
	if ev.WaiterID != "" {
		return h.publish(targetKey{audience: AudienceWaiter, id: ev.WaiterID}, ev, false)
	}
	return 0
}

func (h *Hub) publish(key targetKey, ev Event, mirror bool) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	targets := append([]*Subscription(nil), h.subs[key]...)
	forward := h.forward
	h.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Kind), string(key.audience)).Inc()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.ch <- ev:
			delivered++
		case <-sub.done:
			// Already released; skip.
		default:
			// Consumer stalled with a full buffer: drop rather than block.
			metrics.IncEventDropped(string(key.audience), "buffer_full")
		}
	}
	if len(targets) == 0 {
		metrics.IncEventDropped(string(key.audience), "no_subscribers")
	}

	if mirror && forward != nil {
		forward(ev)
	}
	return delivered
}

// Broadcast sends the event to every open subscription regardless of target.
// Used for heartbeats only.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	var targets []*Subscription
	for _, list := range h.subs {
		targets = append(targets, list...)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			metrics.IncEventDropped(string(sub.target.audience), "buffer_full")
		}
	}
}

// Counts reports open connection totals by audience.
func (h *Hub) Counts() Counts {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var c Counts
	for key, list := range h.subs {
		switch key.audience {
		case AudienceSession:
			c.Sessions += len(list)
		case AudienceWaiter:
			c.Waiters += len(list)
		}
	}
	c.Total = c.Sessions + c.Waiters
	return c
}

// HasSessionConns reports whether any stream is open for the session id, so
// callers can skip building expensive payloads nobody would receive.
func (h *Hub) HasSessionConns(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[targetKey{audience: AudienceSession, id: sessionID}]) > 0
}

// HasWaiterConns reports whether any stream is open for the waiter id.
func (h *Hub) HasWaiterConns(waiterID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[targetKey{audience: AudienceWaiter, id: waiterID}]) > 0
}

// RunHeartbeat broadcasts a keep-alive to every open subscription on the
// given interval, so intermediary proxies do not time out idle streams. It
// blocks until ctx is cancelled.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(Event{Kind: KindHeartbeat, Timestamp: time.Now().UTC()})
		}
	}
}

// setForward installs the relay mirror hook.
func (h *Hub) setForward(fn func(Event)) {
	h.mu.Lock()
	h.forward = fn
	h.mu.Unlock()
}

// Shutdown releases every open subscription. New subscriptions after
// Shutdown are returned already released.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, list := range h.subs {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	h.logger.Info().Int("connections", len(all)).Msg("notification hub shut down")
}
