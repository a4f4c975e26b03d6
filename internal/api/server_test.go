// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/flockwatch/flockwatch/internal/config"
	"github.com/flockwatch/flockwatch/internal/models"
)

type fakeStore struct {
	pingErr error
	obs     *models.Observer
	obsErr  error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetObserver(context.Context, string) (*models.Observer, error) {
	return f.obs, f.obsErr
}

func newTestServer(store Store) *Server {
	return NewServer(store, "node-a", config.ServerConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    9187,
		Timeout: 5 * time.Second,
	})
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzOK(t *testing.T) {
	claimed := time.Date(2026, 5, 12, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{obs: &models.Observer{
		Name:               "node-a",
		LastSeen:           claimed.Add(time.Minute),
		Active:             true,
		IsProcessor:        true,
		ProcessorClaimedAt: &claimed,
	}}

	rec := doRequest(t, newTestServer(store), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field: expected ok, got %q", resp.Status)
	}
	if resp.Node != "node-a" {
		t.Errorf("node: expected node-a, got %q", resp.Node)
	}
	if !resp.IsProcessor {
		t.Error("is_processor should be true")
	}
	if resp.ProcessorClaimedAt == nil || !resp.ProcessorClaimedAt.Equal(claimed) {
		t.Errorf("processor_claimed_at: expected %s, got %v", claimed, resp.ProcessorClaimedAt)
	}
}

func TestHealthzStoreDown(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("store unreachable")}

	rec := doRequest(t, newTestServer(store), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: expected 503, got %d", rec.Code)
	}
}

func TestHealthzObserverRowUnreadable(t *testing.T) {
	store := &fakeStore{obsErr: errors.New("scan failed")}

	rec := doRequest(t, newTestServer(store), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: expected 503, got %d", rec.Code)
	}
}

func TestHealthzBeforeRegistration(t *testing.T) {
	// No observer row yet: the store is reachable, so the node is healthy.
	rec := doRequest(t, newTestServer(&fakeStore{}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeStore{}), "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, newTestServer(&fakeStore{pingErr: errors.New("down")}), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeStore{}), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}
