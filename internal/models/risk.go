// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package models

// RiskLevel is the ordered classification derived from a normalized anomaly
// score. The ordering NORMAL < LOW < MEDIUM < HIGH < CRITICAL is fixed and
// used for all threshold comparisons.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskRanks defines the fixed severity ordering.
var riskRanks = map[RiskLevel]int{
	RiskNormal:   0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the position of the level in the severity ordering.
// Unknown levels rank below NORMAL so they never satisfy a threshold.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRanks[r]; ok {
		return rank
	}
	return -1
}

// Valid reports whether the level is one of the five defined levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskRanks[r]
	return ok
}

// AtLeast reports whether the level meets or exceeds the threshold under
// the fixed severity ordering.
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return r.Valid() && threshold.Valid() && r.Rank() >= threshold.Rank()
}
