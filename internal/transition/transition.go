// SPDX-License-Identifier: MIT

// Package transition implements the role-scoped status transition engine.
//
// A transition is a requested move of a service request or an order from one
// status to another, performed by an actor in a given role. The engine decides
// whether the move is legal and what it is labeled as for that role.
package transition

import (
	"fmt"
	"strings"
)

// Status is a named lifecycle state of a service request or an order.
type Status string

// Statuses shared by the request and order lifecycles.
const (
	StatusNew       Status = "new"
	StatusCancelled Status = "cancelled"
	StatusOnHold    Status = "on_hold"
)

// Request lifecycle statuses.
const (
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
)

// Order lifecycle statuses.
const (
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusPaid      Status = "paid"
)

// AllStatuses lists every known status in a fixed order.
var AllStatuses = []Status{
	StatusNew,
	StatusAcknowledged,
	StatusInProgress,
	StatusPreparing,
	StatusReady,
	StatusDelivered,
	StatusCompleted,
	StatusPaid,
	StatusOnHold,
	StatusCancelled,
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is one of the defined constants.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal checks whether the status represents a final state.
// A request or order in a terminal state only permits the stay transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form of the status ("in_progress" -> "In Progress").
func (s Status) Label() string {
	parts := strings.Split(string(s), "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Role is the class of identity performing a status change.
type Role string

const (
	RoleClient  Role = "client"
	RoleWaiter  Role = "waiter"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks whether the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleWaiter, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsPrivileged reports whether the role may perform any transition under the
// built-in fallback rules.
func (r Role) IsPrivileged() bool {
	return r == RoleManager || r == RoleAdmin
}

// Rule permits one transition for one actor role. Rules are immutable once
// loaded; multiple rules may share (Current, Role) with different targets.
type Rule struct {
	Current Status
	Target  Status
	Role    Role
	Label   string
}

// Option is one legal next state offered to an actor.
type Option struct {
	Target Status `json:"target"`
	Label  string `json:"label"`
}

// Pair identifies one (current status, actor role) combination known to a
// rule source. Used to repopulate the engine cache proactively.
type Pair struct {
	Current Status
	Role    Role
}

// RejectedError reports an illegal transition together with the legal
// alternatives, so callers can surface them to the user.
type RejectedError struct {
	Current   Status
	Requested Status
	Role      Role
	Allowed   []Option
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	labels := make([]string, len(e.Allowed))
	for i, opt := range e.Allowed {
		labels[i] = opt.Label
	}
	return fmt.Sprintf("transition %s -> %s not allowed for role %s; allowed: %s",
		e.Current, e.Requested, e.Role, strings.Join(labels, ", "))
}

// AllowedLabels returns the labels of the legal alternatives.
func (e *RejectedError) AllowedLabels() []string {
	labels := make([]string, len(e.Allowed))
	for i, opt := range e.Allowed {
		labels[i] = opt.Label
	}
	return labels
}
