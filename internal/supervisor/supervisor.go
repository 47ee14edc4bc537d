// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package supervisor assembles the suture supervision tree. The detection
// services (pipeline runner, alert consumer) live under their own subtree so
// a crash loop there never takes the API listener down with it.
package supervisor

import (
	"log/slog"
	"os"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// New builds a supervisor with the standard event hook and restart budget.
func New(name string) *suture.Supervisor {
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return suture.New(name, suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: slogger}).MustHook(),
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
	})
}

// Tree wires the daemon's services into the supervision tree:
//
//	vigil
//	├── detection
//	│   ├── pipeline runner
//	│   └── alert consumer
//	└── http api
func Tree(runner, alerts, apiServer suture.Service) *suture.Supervisor {
	root := New("vigil")

	detection := New("detection")
	detection.Add(runner)
	detection.Add(alerts)

	root.Add(detection)
	root.Add(apiServer)
	return root
}
