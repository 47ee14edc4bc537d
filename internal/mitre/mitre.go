// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package mitre maps detected behavior onto MITRE ATT&CK techniques for
// incident reports.
package mitre

import (
	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/models"
)

// Technique is one ATT&CK technique reference.
type Technique struct {
	ID     string `json:"technique_id"`
	Name   string `json:"name"`
	Tactic string `json:"tactic"`
	URL    string `json:"url"`
}

var techniques = map[string]Technique{
	"T1110":     {ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"},
	"T1110.001": {ID: "T1110.001", Name: "Password Guessing", Tactic: "Credential Access"},
	"T1110.004": {ID: "T1110.004", Name: "Credential Stuffing", Tactic: "Credential Access"},
	"T1078":     {ID: "T1078", Name: "Valid Accounts", Tactic: "Initial Access"},
	"T1078.001": {ID: "T1078.001", Name: "Default Accounts", Tactic: "Initial Access"},
	"T1078.003": {ID: "T1078.003", Name: "Local Accounts", Tactic: "Initial Access"},
	"T1548":     {ID: "T1548", Name: "Abuse Elevation Control Mechanism", Tactic: "Privilege Escalation"},
	"T1548.003": {ID: "T1548.003", Name: "Sudo and Sudo Caching", Tactic: "Privilege Escalation"},
	"T1059.004": {ID: "T1059.004", Name: "Command and Scripting Interpreter: Unix Shell", Tactic: "Execution"},
	"T1105":     {ID: "T1105", Name: "Ingress Tool Transfer", Tactic: "Command and Control"},
	"T1083":     {ID: "T1083", Name: "File and Directory Discovery", Tactic: "Discovery"},
}

// downloaders and discoveryTools refine LOLBin matches into the more
// specific technique mappings.
var downloaders = map[string]struct{}{
	"curl": {}, "wget": {}, "nc": {}, "netcat": {}, "telnet": {},
}

var discoveryTools = map[string]struct{}{
	"find": {}, "grep": {}, "awk": {},
}

// defaultAccounts are vendor or distro accounts attackers try first.
var defaultAccounts = map[string]struct{}{
	"root": {}, "admin": {}, "ubuntu": {}, "ec2-user": {}, "pi": {},
}

// Lookup returns the technique for id, if known.
func Lookup(id string) (Technique, bool) {
	t, ok := techniques[id]
	if ok {
		t.URL = "https://attack.mitre.org/techniques/" + dotted(t.ID)
	}
	return t, ok
}

func dotted(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return id[:i] + "/" + id[i+1:]
		}
	}
	return id
}

// TechniquesFor maps the vector's findings onto ATT&CK techniques, in a
// fixed order with no duplicates.
func TechniquesFor(v *features.Vector) []Technique {
	seen := make(map[string]struct{})
	var out []Technique
	add := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		if t, ok := Lookup(id); ok {
			seen[id] = struct{}{}
			out = append(out, t)
		}
	}

	if v.IPFailedLogins > 5 {
		add("T1110")
		if v.IPUniqueUsersAttempted > 5 {
			add("T1110.004")
		} else {
			add("T1110.001")
		}
	}

	if v.EventType == models.EventLoginSuccess && v.UserNewIPDetected {
		add("T1078")
		if _, ok := defaultAccounts[v.Username]; ok {
			add("T1078.001")
		} else {
			add("T1078.003")
		}
	}

	if v.EventType.IsEscalation() {
		add("T1548")
		add("T1548.003")
	}

	if v.SessionLolbinExecuted {
		add("T1059.004")
		for _, bin := range v.LolbinMatches {
			if _, ok := downloaders[bin]; ok {
				add("T1105")
			}
			if _, ok := discoveryTools[bin]; ok {
				add("T1083")
			}
		}
	}

	return out
}
