// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package cache

import (
	"reflect"
	"testing"
)

func TestWatchlistMatcherContains(t *testing.T) {
	m := NewWatchlistMatcher([]string{"curl", "wget", "nc", "base64"})

	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"plain match", "COMMAND=/usr/bin/curl http://evil.example", true},
		{"case insensitive", "executed CURL from shell", true},
		{"substring match", "ncat session opened", true},
		{"no match", "systemd started session for user", false},
		{"empty text", "", false},
		{"pattern at end", "piped output to wget", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Contains(tt.text); got != tt.expected {
				t.Errorf("Contains(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestWatchlistMatcherFindAll(t *testing.T) {
	m := NewWatchlistMatcher([]string{"bash", "python", "perl"})

	got := m.FindAll("sudo: alice : COMMAND=/bin/bash -c 'python3 -c ...'")
	want := []string{"bash", "python"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindAll() = %v, want %v", got, want)
	}

	if got := m.FindAll("nothing suspicious"); got != nil {
		t.Errorf("FindAll() = %v, want nil", got)
	}
}

func TestWatchlistMatcherOverlappingPatterns(t *testing.T) {
	// "nc" is a suffix of "vnc"; failure links must surface both.
	m := NewWatchlistMatcher([]string{"nc", "vnc"})

	got := m.FindAll("started vnc server")
	want := []string{"nc", "vnc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindAll() = %v, want %v", got, want)
	}
}

func TestWatchlistMatcherEmpty(t *testing.T) {
	m := NewWatchlistMatcher(nil)
	if m.Contains("anything") {
		t.Error("empty matcher should never match")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}

	m = NewWatchlistMatcher([]string{"", "  ", "dd"})
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (blank patterns ignored)", m.Len())
	}
	if !m.Contains("ran dd if=/dev/zero") {
		t.Error("expected match for dd")
	}
}
