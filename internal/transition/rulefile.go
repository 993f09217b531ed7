// SPDX-License-Identifier: MIT

package transition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tablebuzz/tablebuzz/internal/log"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk YAML schema of a rule file.
type ruleFile struct {
	Rules []ruleFileEntry `yaml:"rules"`
}

type ruleFileEntry struct {
	Current string `yaml:"current"`
	Target  string `yaml:"target"`
	Role    string `yaml:"role"`
	Label   string `yaml:"label"`
}

// FileRuleSource serves transition rules from a YAML file. It supports hot
// reload via Watch, so rule edits take effect without a restart.
type FileRuleSource struct {
	path string

	mu    sync.RWMutex
	rules map[cacheKey][]Rule
}

// NewFileRuleSource loads the rule file at path.
func NewFileRuleSource(path string) (*FileRuleSource, error) {
	s := &FileRuleSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the rule file and swaps the in-memory rule table.
func (s *FileRuleSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rule file %s: %w", s.path, err)
	}

	rules := make(map[cacheKey][]Rule, len(file.Rules))
	for i, entry := range file.Rules {
		if entry.Current == "" || entry.Target == "" || entry.Role == "" {
			return fmt.Errorf("rule file %s: rule %d is missing current, target or role", s.path, i)
		}
		rule := Rule{
			Current: Status(entry.Current),
			Target:  Status(entry.Target),
			Role:    Role(entry.Role),
			Label:   entry.Label,
		}
		if rule.Label == "" {
			rule.Label = ActionLabel(rule.Target)
		}
		key := cacheKey{current: rule.Current, role: rule.Role}
		rules[key] = append(rules[key], rule)
	}

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// Rules implements RuleSource.
func (s *FileRuleSource) Rules(_ context.Context, current Status, role Role) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules[cacheKey{current: current, role: role}], nil
}

// Pairs implements RuleSource.
func (s *FileRuleSource) Pairs(_ context.Context) ([]Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]Pair, 0, len(s.rules))
	for key := range s.rules {
		pairs = append(pairs, Pair{Current: key.current, Role: key.role})
	}
	return pairs, nil
}

// Watch reloads the rule file whenever it changes and then invokes onChange
// (typically Engine.RefreshCache). It blocks until ctx is cancelled. Editors
// often replace files via rename, so the parent directory is watched.
func (s *FileRuleSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	logger := log.WithComponent("rulefile")
	target := filepath.Clean(s.path)

	// Debounce bursts of events from editors that write in multiple steps.
	var pending *time.Timer
	reload := func() {
		if err := s.Reload(); err != nil {
			logger.Warn().Err(err).Str("path", s.path).Msg("rule file reload failed, keeping previous rules")
			return
		}
		logger.Info().Str("path", s.path).Str(log.FieldEvent, "rules.reloaded").Msg("rule file reloaded")
		if onChange != nil {
			onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(100*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("rule file watcher error")
		}
	}
}
