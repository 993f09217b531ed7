// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"database/sql"
	"time"
)

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// CacheChecker reports the session cache backend as degraded when the backend
// is unreachable: the daemon keeps serving (misses fall back to the system of
// record), so this is not an unhealthy condition.
type CacheChecker struct {
	backend Pinger
}

// NewCacheChecker wraps a cache backend.
func NewCacheChecker(backend Pinger) *CacheChecker {
	return &CacheChecker{backend: backend}
}

// Name implements Checker.
func (c *CacheChecker) Name() string { return "session_cache" }

// Check implements Checker.
func (c *CacheChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.backend.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// RuleDBChecker reports the transition rule database. Unreachable is only
// degraded: the engine falls back to its built-in rule tables.
type RuleDBChecker struct {
	db *sql.DB
}

// NewRuleDBChecker wraps the rule database handle.
func NewRuleDBChecker(db *sql.DB) *RuleDBChecker {
	return &RuleDBChecker{db: db}
}

// Name implements Checker.
func (c *RuleDBChecker) Name() string { return "rule_db" }

// Check implements Checker.
func (c *RuleDBChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: "using built-in fallback rules", Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
