// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package features

import (
	"time"

	"github.com/calderasec/vigil/internal/models"
)

// Names lists the numeric feature names in the fixed order produced by
// Vector.Values. Scorers and explanation rules index into vectors by this
// order, so it must never be reshuffled.
var Names = []string{
	"ip_failed_logins",
	"ip_unique_users_attempted",
	"ip_failed_to_success_ratio",
	"ip_avg_inter_attempt_seconds",
	"ip_auth_method_variance",
	"user_login_time_stddev",
	"user_new_ip_detected",
	"user_first_sudo_usage",
	"user_failed_sudo_attempts",
	"session_login_to_privesc_seconds",
	"session_lolbin_executed",
}

// Vector holds the behavioral statistics computed for a single triggering
// event from the sliding-window history of its source IP and username.
type Vector struct {
	EventID   string           `json:"event_id"`
	Timestamp time.Time        `json:"timestamp"`
	SourceIP  string           `json:"source_ip"`
	Username  string           `json:"username"`
	EventType models.EventType `json:"event_type"`

	IPFailedLogins           int     `json:"ip_failed_logins"`
	IPUniqueUsersAttempted   int     `json:"ip_unique_users_attempted"`
	IPFailedToSuccessRatio   float64 `json:"ip_failed_to_success_ratio"`
	IPAvgInterAttemptSeconds float64 `json:"ip_avg_inter_attempt_seconds"`
	IPAuthMethodVariance     float64 `json:"ip_auth_method_variance"`

	UserLoginTimeStdDev    float64 `json:"user_login_time_stddev"`
	UserNewIPDetected      bool    `json:"user_new_ip_detected"`
	UserFirstSudoUsage     bool    `json:"user_first_sudo_usage"`
	UserFailedSudoAttempts int     `json:"user_failed_sudo_attempts"`

	SessionLoginToPrivescSeconds float64 `json:"session_login_to_privesc_seconds"`
	SessionLolbinExecuted        bool    `json:"session_lolbin_executed"`

	// LolbinMatches lists the watchlist binaries seen in the event message.
	// Metadata only: not part of the numeric feature set.
	LolbinMatches []string `json:"lolbin_matches,omitempty"`
}

// Values returns the numeric features in the order given by Names.
// Booleans map to 0.0 / 1.0.
func (v *Vector) Values() []float64 {
	return []float64{
		float64(v.IPFailedLogins),
		float64(v.IPUniqueUsersAttempted),
		v.IPFailedToSuccessRatio,
		v.IPAvgInterAttemptSeconds,
		v.IPAuthMethodVariance,
		v.UserLoginTimeStdDev,
		boolToFloat(v.UserNewIPDetected),
		boolToFloat(v.UserFirstSudoUsage),
		float64(v.UserFailedSudoAttempts),
		v.SessionLoginToPrivescSeconds,
		boolToFloat(v.SessionLolbinExecuted),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
