// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package api exposes the operational HTTP surface: health, stats, breaker
// state, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/pipeline"
)

// Server is the HTTP API service. It implements suture.Service.
type Server struct {
	addr       string
	pipeline   *pipeline.Pipeline
	aggregator *features.Aggregator
}

// NewServer builds the API server.
func NewServer(addr string, p *pipeline.Pipeline, agg *features.Aggregator) *Server {
	return &Server{addr: addr, pipeline: p, aggregator: agg}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/breakers", s.handleBreakers)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Serve runs the listener until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-api" }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Pipeline pipeline.Stats `json:"pipeline"`
	Features features.Stats `json:"features"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Pipeline: s.pipeline.Stats(),
		Features: s.aggregator.Stats(),
	})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Breakers())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}
