// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tablebuzz/tablebuzz/internal/transition"
)

// RuleStore reads transition rules from the transition_rules table. The table
// is owned by the back-office rule editor; this store only queries it.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore wraps an open database handle.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// EnsureSchema creates the transition_rules table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transition_rules (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	current_status TEXT    NOT NULL,
	target_status  TEXT    NOT NULL,
	actor_role     TEXT    NOT NULL,
	label          TEXT    NOT NULL DEFAULT '',
	allowed        INTEGER NOT NULL DEFAULT 1,
	UNIQUE (current_status, target_status, actor_role)
);
CREATE INDEX IF NOT EXISTS idx_transition_rules_lookup
	ON transition_rules (current_status, actor_role);`

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: ensure transition_rules schema: %w", err)
	}
	return nil
}

// Rules implements transition.RuleSource.
func (s *RuleStore) Rules(ctx context.Context, current transition.Status, role transition.Role) ([]transition.Rule, error) {
	const query = `
SELECT current_status, target_status, actor_role, label
FROM transition_rules
WHERE current_status = ? AND actor_role = ? AND allowed = 1
ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, current.String(), role.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []transition.Rule
	for rows.Next() {
		var currentStatus, targetStatus, actorRole, label string
		if err := rows.Scan(&currentStatus, &targetStatus, &actorRole, &label); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule: %w", err)
		}
		rule := transition.Rule{
			Current: transition.Status(currentStatus),
			Target:  transition.Status(targetStatus),
			Role:    transition.Role(actorRole),
			Label:   label,
		}
		if rule.Label == "" {
			rule.Label = transition.ActionLabel(rule.Target)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate rules: %w", err)
	}
	return rules, nil
}

// Pairs implements transition.RuleSource.
func (s *RuleStore) Pairs(ctx context.Context) ([]transition.Pair, error) {
	const query = `
SELECT DISTINCT current_status, actor_role
FROM transition_rules
WHERE allowed = 1
ORDER BY current_status, actor_role`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query rule pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []transition.Pair
	for rows.Next() {
		var currentStatus, actorRole string
		if err := rows.Scan(&currentStatus, &actorRole); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule pair: %w", err)
		}
		pairs = append(pairs, transition.Pair{
			Current: transition.Status(currentStatus),
			Role:    transition.Role(actorRole),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate rule pairs: %w", err)
	}
	return pairs, nil
}
