// SPDX-License-Identifier: MIT

// Package bus implements the in-process notification hub that fans out
// status-change events to every open streaming connection.
package bus

import (
	"encoding/json"
	"time"
)

// Kind classifies an event. Clients match on Kind; the heartbeat kind must
// never be mistaken for a domain event.
type Kind string

const (
	// KindConnected is the synthetic event opening every stream.
	KindConnected Kind = "connected"

	// KindHeartbeat is the periodic keep-alive broadcast.
	KindHeartbeat Kind = "heartbeat"

	// KindRequestUpdate signals a service request status change.
	KindRequestUpdate Kind = "request_update"

	// KindOrderUpdate signals an order status change.
	KindOrderUpdate Kind = "order_update"

	// KindSessionTransfer signals a waiter handoff affecting the session.
	KindSessionTransfer Kind = "session_transfer"
)

// Event is a transient notification addressed to exactly one audience:
// either a diner session or a waiter. Events are never persisted and never
// replayed to subscribers that connect after emission.
type Event struct {
	SessionID       string          `json:"session_id,omitempty"`
	WaiterID        string          `json:"waiter_id,omitempty"`
	Kind            Kind            `json:"kind"`
	Title           string          `json:"title,omitempty"`
	Message         string          `json:"message,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	RequiresRefresh bool            `json:"requires_refresh"`
}

// NewSessionEvent builds an event addressed to a diner session.
func NewSessionEvent(sessionID string, kind Kind, title, message string) Event {
	return Event{
		SessionID: sessionID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewWaiterEvent builds an event addressed to a waiter.
func NewWaiterEvent(waiterID string, kind Kind, title, message string) Event {
	return Event{
		WaiterID:  waiterID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithPayload attaches a JSON payload to the event.
func (e Event) WithPayload(payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return e, err
	}
	e.Payload = data
	return e, nil
}

// WithRefresh marks the event as requiring a client-side data refresh.
func (e Event) WithRefresh() Event {
	e.RequiresRefresh = true
	return e
}
