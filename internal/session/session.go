// SPDX-License-Identifier: MIT

// Package session provides the distributed session cache.
//
// A session is a diner's anonymous, table-scoped connection to the platform,
// identified by an opaque key. The cache lets any server instance resolve
// "who is this connection and what restaurant/table does it belong to"
// without a database round trip. Records live only here; on a miss the
// caller is expected to consult the system of record and re-populate via Set.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the sliding expiration applied to session records.
const DefaultTTL = 30 * time.Minute

// counterTTL is the expiration of the live-session counter entry. It is far
// longer than the record TTL so the counter survives individual expiries.
const counterTTL = 24 * time.Hour

// ErrNotFound is returned by Get when no record exists for the key. Backend
// failures degrade to this error as well: callers fall back to the system of
// record either way.
var ErrNotFound = errors.New("session: not found")

// Record is the lightweight session state kept in the cache. It is owned
// exclusively by the cache; collaborators never mutate it in place.
type Record struct {
	Key          string    `json:"key"`
	SessionID    string    `json:"session_id"`
	RestaurantID string    `json:"restaurant_id"`
	Table        int       `json:"table"`
	WaiterID     string    `json:"waiter_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats describes the cache for monitoring surfaces. ApproxSize is a
// best-effort counter, not a source of truth for capacity decisions.
type Stats struct {
	TTL        time.Duration `json:"ttl"`
	Backend    string        `json:"backend"`
	ApproxSize int64         `json:"approx_size"`
}

// Store is the session cache contract.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Set stores the record under key and extends its TTL. The live-session
	// counter is incremented only when the key was previously absent.
	Set(ctx context.Context, key string, rec *Record) error

	// Invalidate removes the record and decrements the live-session counter
	// only if the key existed.
	Invalidate(ctx context.Context, key string) error

	// InvalidateBySessionID removes every record belonging to the session id.
	// Backends that cannot enumerate keys cheaply implement this as a
	// documented log-only no-op; callers needing guaranteed invalidation must
	// invalidate by the exact key.
	InvalidateBySessionID(ctx context.Context, sessionID string) error

	// Stats reports TTL, backend kind and the approximate live-session count.
	Stats(ctx context.Context) Stats
}
