// SPDX-License-Identifier: MIT

package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tablebuzz/tablebuzz/internal/log"
)

// DefaultRelaySubject is the NATS subject events are mirrored on.
const DefaultRelaySubject = "tablebuzz.events"

// envelope wraps an event with its origin instance so receivers can suppress
// their own echoes.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Relay bridges the process-local hub across server instances over NATS.
// Without it, an event published on instance A only reaches connections held
// open by instance A. Delivery through the relay stays best-effort and
// at-least-once to currently connected subscribers, same as the local hub.
type Relay struct {
	conn    *nats.Conn
	hub     *Hub
	subject string
	origin  string
	sub     *nats.Subscription
	logger  zerolog.Logger
}

// NewRelay connects to NATS and prepares a relay for the hub.
func NewRelay(url string, hub *Hub) (*Relay, error) {
	conn, err := nats.Connect(url, nats.Name("tablebuzz-relay"))
	if err != nil {
		return nil, fmt.Errorf("relay: connect to NATS: %w", err)
	}
	return &Relay{
		conn:    conn,
		hub:     hub,
		subject: DefaultRelaySubject,
		origin:  uuid.NewString(),
		logger:  log.WithComponent("relay"),
	}, nil
}

// Start subscribes to the relay subject and begins mirroring local publishes.
func (r *Relay) Start() error {
	sub, err := r.conn.Subscribe(r.subject, r.handle)
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	r.hub.setForward(r.mirror)
	r.logger.Info().Str("subject", r.subject).Msg("cross-instance relay started")
	return nil
}

// mirror publishes a locally emitted event to the shared subject.
func (r *Relay) mirror(ev Event) {
	data, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Warn().Err(err).Msg("relay marshal failed, event stays local")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		r.logger.Warn().Err(err).Msg("relay publish failed, event stays local")
	}
}

// handle injects events from other instances into the local hub.
func (r *Relay) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn().Err(err).Msg("relay received malformed envelope, dropping")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.deliverLocal(env.Event)
}

// Close detaches from the hub and drains the NATS connection.
func (r *Relay) Close() {
	r.hub.setForward(nil)
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.conn.Close()
}
