// SPDX-License-Identifier: MIT

package transition

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `
rules:
  - current: new
    target: acknowledged
    role: waiter
    label: Acknowledge
  - current: new
    target: cancelled
    role: waiter
  - current: acknowledged
    target: in_progress
    role: waiter
    label: Start
`

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileRuleSource_Load(t *testing.T) {
	source, err := NewFileRuleSource(writeRuleFile(t, testRules))
	require.NoError(t, err)
	ctx := context.Background()

	rules, err := source.Rules(ctx, StatusNew, RoleWaiter)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "Acknowledge", rules[0].Label)
	// Missing label falls back to the action label.
	assert.Equal(t, "Cancel", rules[1].Label)

	pairs, err := source.Pairs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestFileRuleSource_MissingFile(t *testing.T) {
	_, err := NewFileRuleSource(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestFileRuleSource_RejectsIncompleteRule(t *testing.T) {
	_, err := NewFileRuleSource(writeRuleFile(t, "rules:\n  - current: new\n"))
	require.ErrorContains(t, err, "missing")
}

func TestFileRuleSource_Reload(t *testing.T) {
	path := writeRuleFile(t, testRules)
	source, err := NewFileRuleSource(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - current: new
    target: on_hold
    role: waiter
`), 0o644))
	require.NoError(t, source.Reload())

	rules, err := source.Rules(ctx, StatusNew, RoleWaiter)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, StatusOnHold, rules[0].Target)
}

func TestFileRuleSource_WatchReloadsOnChange(t *testing.T) {
	path := writeRuleFile(t, testRules)
	source, err := NewFileRuleSource(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	go func() {
		_ = source.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - current: ready
    target: delivered
    role: waiter
`), 0o644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not pick up the rule file change")
	}

	rules, err := source.Rules(context.Background(), StatusReady, RoleWaiter)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, StatusDelivered, rules[0].Target)
}
