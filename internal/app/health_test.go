package app

import (
	"errors"
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)

	rr := doJSON(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if parseBody(t, rr)["ok"] != true {
		t.Errorf("expected ok=true, got %s", rr.Body.String())
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)

	rr := doJSON(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	payload := parseBody(t, rr)
	if payload["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", payload["status"])
	}
	checks, _ := payload["checks"].(map[string]any)
	db, _ := checks["database"].(map[string]any)
	if db["status"] != "ok" {
		t.Errorf("expected database status=ok, got %v", db)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := newFakeStore()
	fs.pingErr = errors.New("connection refused")
	server := NewHTTPServer(newTestService(fs), "*", nil)

	rr := doJSON(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	payload := parseBody(t, rr)
	if payload["ok"] != false || payload["status"] != "not_ready" {
		t.Errorf("expected not_ready payload, got %s", rr.Body.String())
	}
}
