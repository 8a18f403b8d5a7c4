package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the body served on /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the body served on /readyz.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult reports one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what /readyz verifies. OperationsLoaded is always
// reported, as a failure when nil; the others only when set.
type ReadinessChecks struct {
	OperationsLoaded func() bool
	OpenAPILoaded    func() bool
	IdempotencyStore HealthChecker
}

const checkTimeout = 2 * time.Second

type probe func(ctx context.Context) error

func loaded(fn func() bool, msg string) probe {
	return func(context.Context) error {
		if fn == nil || !fn() {
			return errors.New(msg)
		}
		return nil
	}
}

func (c ReadinessChecks) probes() map[string]probe {
	probes := map[string]probe{
		"operations": loaded(c.OperationsLoaded, "no operations loaded"),
	}
	if c.OpenAPILoaded != nil {
		probes["openapi_index"] = loaded(c.OpenAPILoaded, "no OpenAPI specs loaded")
	}
	if c.IdempotencyStore != nil {
		probes["idempotency_store"] = c.IdempotencyStore.HealthCheck
	}
	return probes
}

// HandleHealth serves the liveness probe with the build version.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady runs every configured check concurrently, each under its own
// timeout, and answers 503 when any of them fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(probes))}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, p := range probes {
			wg.Go(func() {
				result := runProbe(r.Context(), p)
				mu.Lock()
				resp.Checks[name] = result
				mu.Unlock()
			})
		}
		wg.Wait()

		status := http.StatusOK
		for _, result := range resp.Checks {
			if result.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeProbe(w, status, resp)
	}
}

func runProbe(parent context.Context, p probe) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p(ctx)
	result := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
	}
	return result
}

func writeProbe(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
