// Package integration runs seqctl end to end: the HTTP host and the command
// line are wired by the shell exactly as in production and talk to a mock
// omics service over real HTTP with signed requests.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/credentials"
	"github.com/pitabwire/seqctl/internal/shell"
	"github.com/pitabwire/seqctl/model"
)

const (
	testSecret     = "integration-secret"
	testService    = "omics"
	defaultProfile = "default"
)

// Harness is a fully wired seqctl host in front of a mock omics service.
type Harness struct {
	t      *testing.T
	server *httptest.Server

	App     *shell.App
	Service *MockService
}

// HarnessOption adjusts the configuration before the host is built.
type HarnessOption func(*config.Config)

// WithCircuitBreaker sets the breaker configuration of the omics service.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(cfg *config.Config) {
		svc := cfg.Services[testService]
		svc.CircuitBreaker = cb
		cfg.Services[testService] = svc
	}
}

// WithServiceTimeout sets the per-request timeout of the omics service.
func WithServiceTimeout(d time.Duration) HarnessOption {
	return func(cfg *config.Config) {
		svc := cfg.Services[testService]
		svc.Timeout = d
		cfg.Services[testService] = svc
	}
}

// WithMandatoryPolicy sets how missing mandatory parameters are handled.
func WithMandatoryPolicy(policy string) HarnessOption {
	return func(cfg *config.Config) {
		cfg.Shell.MandatoryPolicy = policy
	}
}

// WithIdempotency enables the in-memory idempotency store.
func WithIdempotency() HarnessOption {
	return func(cfg *config.Config) {
		cfg.Idempotency.Enabled = true
		cfg.Idempotency.Driver = "memory"
	}
}

// WithHostAuth requires bearer tokens on the /v1 routes.
func WithHostAuth() HarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.AuthProfile = defaultProfile
	}
}

// NewHarness builds the host and the mock service. Both are torn down when
// the test ends.
func NewHarness(t *testing.T, opts ...HarnessOption) *Harness {
	t.Helper()
	t.Setenv("SEQCTL_SECRET", testSecret)

	cfg := config.Defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	app, err := shell.NewApp(context.Background(), cfg, zaptest.NewLogger(t), shell.Options{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })

	// Clients resolve the base URL on first use, so the mock can be pointed
	// at after the table is loaded.
	ms := newMockService(t, app.Registry.AllOperations(), []byte(testSecret), cfg.Profiles[defaultProfile])
	svc := cfg.Services[testService]
	svc.BaseURL = ms.URL()
	cfg.Services[testService] = svc

	handler, err := app.Router()
	if err != nil {
		t.Fatalf("Router: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Harness{t: t, server: srv, App: app, Service: ms}
}

// URL returns the base URL of the host.
func (h *Harness) URL() string {
	return h.server.URL
}

// Token returns a bearer token the host accepts.
func (h *Harness) Token() string {
	h.t.Helper()
	signer, err := credentials.NewSigner(defaultProfile, h.App.Config.Defaults.Region, h.App.Config.Profiles[defaultProfile])
	if err != nil {
		h.t.Fatalf("signer: %v", err)
	}
	token, err := signer.Token()
	if err != nil {
		h.t.Fatalf("token: %v", err)
	}
	return token
}

// InvocationResult is the host's reply for one invocation.
type InvocationResult struct {
	Index        *int                 `json:"index"`
	InvocationID string               `json:"invocation_id"`
	Operation    string               `json:"operation"`
	Outcome      string               `json:"outcome"`
	Output       any                  `json:"output"`
	Warnings     []string             `json:"warnings"`
	Error        *model.ErrorEnvelope `json:"error"`
}

// BatchResult is the host's reply for a batch.
type BatchResult struct {
	Results   []InvocationResult `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

// Do sends a request to the host. body is encoded as JSON unless nil.
func (h *Harness) Do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// Invoke posts one invocation and decodes the reply.
func (h *Harness) Invoke(operation string, body map[string]any) (int, InvocationResult) {
	h.t.Helper()
	resp := h.Do(http.MethodPost, "/v1/operations/"+operation+"/invoke", "", body)
	var out InvocationResult
	h.decode(resp, &out)
	return resp.StatusCode, out
}

// Batch posts a batch and decodes the reply.
func (h *Harness) Batch(items []model.InvocationInput, parallel int) (int, BatchResult) {
	h.t.Helper()
	resp := h.Do(http.MethodPost, "/v1/batch", "", map[string]any{"items": items, "parallel": parallel})
	var out BatchResult
	h.decode(resp, &out)
	return resp.StatusCode, out
}

func (h *Harness) decode(resp *http.Response, v any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		h.t.Fatalf("decode %s reply: %v", resp.Request.URL.Path, err)
	}
}

// RunCLI runs the seqctl command line against the mock service.
func (h *Harness) RunCLI(stdin string, args ...string) (code int, stdout, stderr string) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--endpoint", h.Service.URL()}, args...)
	code = shell.Run(context.Background(), full, shell.IO{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	})
	return code, out.String(), errOut.String()
}
