package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// ActiveRules returns every active rule ordered by ID
func (m *Store) ActiveRules(ctx context.Context) ([]*domain.AlertRule, error) {
	rules, err := m.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRules returns every rule ordered by ID
func (m *Store) ListRules(_ context.Context) ([]*domain.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// CreateRule inserts a rule and sets its ID
func (m *Store) CreateRule(_ context.Context, rule *domain.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ruleSeq++
	rule.ID = m.ruleSeq
	m.rules[rule.ID] = cloneRule(rule)
	return nil
}

// GetRule returns a copy of a rule
func (m *Store) GetRule(_ context.Context, ruleID int64) (*domain.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[ruleID]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return cloneRule(r), nil
}

// RecordFire starts the rule's cooldown and appends event, or changes nothing
// when the rule is inactive, fired after cutoff or event.ID is taken.
func (m *Store) RecordFire(_ context.Context, event *domain.AlertEvent, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[event.AlertRuleID]
	if !ok || !r.IsActive {
		return false, nil
	}
	if r.LastTriggered != nil && r.LastTriggered.After(cutoff) {
		return false, nil
	}
	for _, e := range m.events {
		if e.ID == event.ID {
			return false, fmt.Errorf("alert event %s already exists", event.ID)
		}
	}

	r.LastTriggered = timePtr(event.CreatedAt)
	r.TriggerCount++

	c := *event
	c.ChannelsSent = append([]string(nil), event.ChannelsSent...)
	m.events = append(m.events, &c)
	return true, nil
}

// SetEventChannels records which channels delivered an event
func (m *Store) SetEventChannels(_ context.Context, eventID string, channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.ID == eventID {
			e.ChannelsSent = append([]string(nil), channels...)
		}
	}
	return nil
}

// ListEvents returns the most recent events first
func (m *Store) ListEvents(_ context.Context, limit int) ([]*domain.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.AlertEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		c := *m.events[i]
		out = append(out, &c)
	}
	return out, nil
}
