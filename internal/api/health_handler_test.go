package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzHandler_AlwaysOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthzHandler()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}

func TestHealthzHandler_ResponseFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthzHandler()
	handler.ServeHTTP(rec, req)

	// Verify the response is valid JSON with expected structure
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}

	status, ok := resp["status"]
	if !ok {
		t.Error("response missing 'status' field")
	}
	if status != "ok" {
		t.Errorf("expected status 'ok', got %v", status)
	}
}

func TestReadyzHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     []ReadinessCheck
		wantStatus int
		wantError  string
	}{
		{"no checks", nil, http.StatusOK, ""},
		{"all healthy", []ReadinessCheck{{"database", ok}, {"queue", ok}}, http.StatusOK, ""},
		{"database down", []ReadinessCheck{{"database", down}, {"queue", ok}}, http.StatusServiceUnavailable, "database unavailable"},
		{"queue down", []ReadinessCheck{{"database", ok}, {"queue", down}}, http.StatusServiceUnavailable, "queue unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()

			ReadyzHandler(tt.checks...).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if tt.wantError == "" {
				if resp["status"] != "ok" {
					t.Errorf("expected status ok, got %v", resp)
				}
				return
			}
			if resp["error"] != tt.wantError {
				t.Errorf("expected error %q, got %q", tt.wantError, resp["error"])
			}
			if rec.Header().Get("Retry-After") != "30" {
				t.Errorf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}
