package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("health = %+v", resp)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_operationsOnly(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OperationsLoaded: func() bool { return true },
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks = %v, want only operations", resp.Checks)
	}
}

func TestHandleReady_allHealthy(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OperationsLoaded: func() bool { return true },
		OpenAPILoaded:    func() bool { return true },
		IdempotencyStore: &mockHealthChecker{},
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("checks count = %d, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
		if check.LatencyMs < 0 {
			t.Errorf("%s latency = %d, should be >= 0", name, check.LatencyMs)
		}
	}
}

func TestHandleReady_operationsNotLoaded(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OperationsLoaded: func() bool { return false },
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["operations"].Error == "" {
		t.Error("operations error should have a message")
	}
}

func TestHandleReady_nilOperationsCheck(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["operations"].Status != "error" {
		t.Errorf("operations = %q, want error", resp.Checks["operations"].Status)
	}
}

func TestHandleReady_openAPINotLoaded(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OperationsLoaded: func() bool { return true },
		OpenAPILoaded:    func() bool { return false },
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["openapi_index"].Status != "error" {
		t.Errorf("openapi_index = %q, want error", resp.Checks["openapi_index"].Status)
	}
}

func TestHandleReady_idempotencyStoreDown(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OperationsLoaded: func() bool { return true },
		IdempotencyStore: &mockHealthChecker{err: errors.New("redis timeout")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	check := resp.Checks["idempotency_store"]
	if check.Status != "error" || check.Error != "redis timeout" {
		t.Errorf("idempotency_store = %+v, want error 'redis timeout'", check)
	}
}
