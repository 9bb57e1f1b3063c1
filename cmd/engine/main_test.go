package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubReadiness struct {
	err error
}

func (s stubReadiness) Ready(ctx context.Context) error { return s.err }

func TestRouter_HealthEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		ready  error
		status int
	}{
		{name: "health", path: "/health", status: http.StatusOK},
		{name: "health ignores dependencies", path: "/health", ready: errors.New("down"), status: http.StatusOK},
		{name: "ready", path: "/ready", status: http.StatusOK},
		{name: "not ready", path: "/ready", ready: errors.New("postgres: refused"), status: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(stubReadiness{err: tc.ready})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}
