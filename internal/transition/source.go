// SPDX-License-Identifier: MIT

package transition

import "context"

// RuleSource supplies transition rules for the engine. Implementations exist
// for a relational store, a YAML rule file, and the built-in defaults.
type RuleSource interface {
	// Rules returns every rule for the given (current status, actor role)
	// combination. An empty result means the source has no opinion and the
	// engine falls back to the next source in line.
	Rules(ctx context.Context, current Status, role Role) ([]Rule, error)

	// Pairs returns all distinct (current status, actor role) combinations
	// the source holds rules for.
	Pairs(ctx context.Context) ([]Pair, error)
}

// actionLabels maps a target status to the action label shown to staff
// ("cancelled" is offered as "Cancel", not "Cancelled").
var actionLabels = map[Status]string{
	StatusAcknowledged: "Acknowledge",
	StatusInProgress:   "Start",
	StatusPreparing:    "Prepare",
	StatusReady:        "Ready",
	StatusDelivered:    "Deliver",
	StatusCompleted:    "Complete",
	StatusPaid:         "Mark Paid",
	StatusOnHold:       "Hold",
	StatusCancelled:    "Cancel",
}

// ActionLabel returns the default action label for moving to target.
func ActionLabel(target Status) string {
	if label, ok := actionLabels[target]; ok {
		return label
	}
	return target.Label()
}

// waiterGraph is the built-in front-of-house transition graph. The stay
// transition is implicit and added by the engine.
var waiterGraph = map[Status][]Status{
	StatusNew:          {StatusAcknowledged, StatusInProgress, StatusPreparing, StatusOnHold, StatusCancelled},
	StatusAcknowledged: {StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled},
	StatusInProgress:   {StatusCompleted, StatusOnHold, StatusCancelled},
	StatusPreparing:    {StatusReady, StatusOnHold, StatusCancelled},
	StatusReady:        {StatusDelivered, StatusCancelled},
	StatusDelivered:    {StatusPaid},
	StatusCompleted:    {StatusPaid},
	StatusOnHold:       {StatusInProgress, StatusPreparing, StatusCancelled},
}

// DefaultRuleSource is the built-in fallback rule table, used when the
// configured primary source is unavailable or has no rules for a combination.
// It is deterministic and never errors.
type DefaultRuleSource struct{}

// NewDefaultRuleSource returns the built-in rule source.
func NewDefaultRuleSource() *DefaultRuleSource {
	return &DefaultRuleSource{}
}

// Rules implements RuleSource with the built-in role-class tables: diners may
// only cancel, waiters follow the front-of-house graph, privileged roles may
// move anything anywhere.
func (d *DefaultRuleSource) Rules(_ context.Context, current Status, role Role) ([]Rule, error) {
	var targets []Status
	switch {
	case role.IsPrivileged():
		for _, s := range AllStatuses {
			if s != current {
				targets = append(targets, s)
			}
		}
	case role == RoleWaiter:
		targets = waiterGraph[current]
	default:
		// Diner-facing roles may only back out.
		if !current.IsTerminal() {
			targets = []Status{StatusCancelled}
		}
	}

	rules := make([]Rule, 0, len(targets))
	for _, target := range targets {
		rules = append(rules, Rule{
			Current: current,
			Target:  target,
			Role:    role,
			Label:   ActionLabel(target),
		})
	}
	return rules, nil
}

// Pairs implements RuleSource over every known status and role.
func (d *DefaultRuleSource) Pairs(_ context.Context) ([]Pair, error) {
	roles := []Role{RoleClient, RoleWaiter, RoleManager, RoleAdmin}
	pairs := make([]Pair, 0, len(AllStatuses)*len(roles))
	for _, status := range AllStatuses {
		for _, role := range roles {
			pairs = append(pairs, Pair{Current: status, Role: role})
		}
	}
	return pairs, nil
}
