// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package response

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cooldownCacheSize bounds the number of (action, target) pairs tracked at
// once; least-recently-acted targets fall out first.
const cooldownCacheSize = 4096

// DefaultCooldowns returns the minimum interval between repeat executions of
// the same action against the same target.
func DefaultCooldowns() map[ActionType]time.Duration {
	return map[ActionType]time.Duration{
		ActionBlockIP:          600 * time.Second,
		ActionLockAccount:      300 * time.Second,
		ActionTerminateSession: 180 * time.Second,
	}
}

// CooldownManager throttles repeat actions per (action, target) pair. An
// action is blocked only while strictly less than its cooldown has elapsed
// since the last execution; at exactly the cooldown it is allowed again.
type CooldownManager struct {
	cooldowns map[ActionType]time.Duration
	last      *lru.Cache[string, time.Time]
	now       func() time.Time
}

// NewCooldownManager builds a manager. A nil cooldowns map applies
// DefaultCooldowns.
func NewCooldownManager(cooldowns map[ActionType]time.Duration) (*CooldownManager, error) {
	if cooldowns == nil {
		cooldowns = DefaultCooldowns()
	}
	cache, err := lru.New[string, time.Time](cooldownCacheSize)
	if err != nil {
		return nil, fmt.Errorf("response: cooldown cache: %w", err)
	}
	return &CooldownManager{
		cooldowns: cooldowns,
		last:      cache,
		now:       time.Now,
	}, nil
}

// Allowed reports whether the action may execute now. Action types without a
// configured cooldown are always allowed.
func (m *CooldownManager) Allowed(action ActionType, target string) bool {
	cooldown, ok := m.cooldowns[action]
	if !ok {
		return true
	}
	last, ok := m.last.Get(cooldownKey(action, target))
	if !ok {
		return true
	}
	return m.now().Sub(last) >= cooldown
}

// MarkExecuted records that the action ran against target now.
func (m *CooldownManager) MarkExecuted(action ActionType, target string) {
	if _, ok := m.cooldowns[action]; !ok {
		return
	}
	m.last.Add(cooldownKey(action, target), m.now())
}

// Remaining returns how long until the action is allowed again, zero when it
// is allowed now.
func (m *CooldownManager) Remaining(action ActionType, target string) time.Duration {
	cooldown, ok := m.cooldowns[action]
	if !ok {
		return 0
	}
	last, ok := m.last.Get(cooldownKey(action, target))
	if !ok {
		return 0
	}
	left := cooldown - m.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

func cooldownKey(action ActionType, target string) string {
	return string(action) + ":" + target
}
