// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package api exposes the node's health and metrics over HTTP.
//
// This is an observability surface only. The report layer reads the
// sightings, targets and observers relations directly from the shared
// store; the coordination core owns no query API. Liveness and role state
// are equally observable by polling the observers relation, so running
// this listener is optional.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flockwatch/flockwatch/internal/config"
	"github.com/flockwatch/flockwatch/internal/logging"
	"github.com/flockwatch/flockwatch/internal/models"
)

// Store is the read-only slice of the store the health endpoints need.
type Store interface {
	Ping(ctx context.Context) error
	GetObserver(ctx context.Context, name string) (*models.Observer, error)
}

// Server serves /healthz, /readyz and /metrics for one node.
type Server struct {
	store    Store
	nodeName string
	cfg      config.ServerConfig
}

// NewServer creates the health/metrics listener.
func NewServer(store Store, nodeName string, cfg config.ServerConfig) *Server {
	return &Server{store: store, nodeName: nodeName, cfg: cfg}
}

// Router builds the chi router. Exposed separately for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Serve implements suture.Service: it runs the listener until the context
// is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("Health listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Health listener shutdown error")
		}
		return ctx.Err()
	}
}

// healthResponse reports this node's view of its own liveness and role.
type healthResponse struct {
	Status             string     `json:"status"`
	Node               string     `json:"node"`
	LastSeen           *time.Time `json:"last_seen,omitempty"`
	IsProcessor        bool       `json:"is_processor"`
	ProcessorClaimedAt *time.Time `json:"processor_claimed_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Node: s.nodeName}

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "store unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	obs, err := s.store.GetObserver(r.Context(), s.nodeName)
	if err != nil {
		resp.Status = "observer row unreadable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if obs != nil {
		t := obs.LastSeen
		resp.LastSeen = &t
		resp.IsProcessor = obs.IsProcessor
		resp.ProcessorClaimedAt = obs.ProcessorClaimedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}
