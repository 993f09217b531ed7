// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID    = "session_id"
	FieldWaiterID     = "waiter_id"
	FieldRestaurantID = "restaurant_id"
	FieldConnectionID = "connection_id"
	FieldRequestID    = "request_id"
	FieldRole         = "role"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTarget    = "target"
	FieldKind      = "kind"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Cache fields
	FieldCacheKey     = "cache_key"
	FieldCacheBackend = "cache_backend"
)
