// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package cache provides high-performance in-memory structures used by the
// detection pipeline.
package cache

import "strings"

// WatchlistMatcher finds occurrences of any pattern from a watch-list in a
// text using the Aho-Corasick algorithm. Matching is case-insensitive
// substring matching, built once at construction and immutable afterwards,
// so searches need no locking.
//
// The aggregator uses it to flag commonly-abused system binaries (LOLBins)
// in event messages: one pass over the message checks the whole watch-list
// in O(len(text) + matches) instead of O(len(text) * patterns).
type WatchlistMatcher struct {
	root     *wlNode
	patterns []string
}

// wlNode is a node in the Aho-Corasick automaton.
type wlNode struct {
	children map[rune]*wlNode
	failure  *wlNode
	output   []int // indices of patterns ending at this node
}

func newWLNode() *wlNode {
	return &wlNode{children: make(map[rune]*wlNode)}
}

// NewWatchlistMatcher builds a matcher for the given patterns.
// Empty patterns are ignored; patterns are lowercased.
func NewWatchlistMatcher(patterns []string) *WatchlistMatcher {
	m := &WatchlistMatcher{root: newWLNode()}

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		m.insert(p)
	}

	m.buildFailureLinks()
	return m
}

// insert adds one pattern to the trie.
func (m *WatchlistMatcher) insert(pattern string) {
	node := m.root
	for _, ch := range pattern {
		if node.children[ch] == nil {
			node.children[ch] = newWLNode()
		}
		node = node.children[ch]
	}
	node.output = append(node.output, len(m.patterns))
	m.patterns = append(m.patterns, pattern)
}

// buildFailureLinks wires suffix links breadth-first.
func (m *WatchlistMatcher) buildFailureLinks() {
	queue := make([]*wlNode, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.failure = m.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != nil && fail.children[ch] == nil {
				fail = fail.failure
			}

			if fail == nil {
				child.failure = m.root
			} else {
				child.failure = fail.children[ch]
				child.output = append(child.output, child.failure.output...)
			}
		}
	}
}

// Len returns the number of patterns in the watch-list.
func (m *WatchlistMatcher) Len() int {
	return len(m.patterns)
}

// Contains reports whether any watch-list pattern occurs in the text.
func (m *WatchlistMatcher) Contains(text string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	node := m.root
	for _, ch := range strings.ToLower(text) {
		for node != nil && node.children[ch] == nil {
			node = node.failure
		}
		if node == nil {
			node = m.root
			continue
		}
		node = node.children[ch]
		if len(node.output) > 0 {
			return true
		}
	}
	return false
}

// FindAll returns the distinct watch-list patterns occurring in the text,
// in watch-list order.
func (m *WatchlistMatcher) FindAll(text string) []string {
	if len(m.patterns) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	node := m.root
	for _, ch := range strings.ToLower(text) {
		for node != nil && node.children[ch] == nil {
			node = node.failure
		}
		if node == nil {
			node = m.root
			continue
		}
		node = node.children[ch]
		for _, idx := range node.output {
			seen[idx] = true
		}
	}

	if len(seen) == 0 {
		return nil
	}

	matched := make([]string, 0, len(seen))
	for i, p := range m.patterns {
		if seen[i] {
			matched = append(matched, p)
		}
	}
	return matched
}
