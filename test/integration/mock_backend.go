package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/credentials"
	"github.com/pitabwire/seqctl/internal/definition"
	"github.com/pitabwire/seqctl/model"
)

// MockService is an HTTP test server standing in for the omics service. It
// serves every rest-bound operation of the loaded table, answers from
// queued responses and records what it received.
type MockService struct {
	t      *testing.T
	server *httptest.Server

	secret  []byte
	profile config.CredentialConfig

	mu       sync.RWMutex
	queued   map[string]*responseQueue
	received map[string][]*RecordedRequest
}

// RecordedRequest is one request received by the mock service.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]any
	// Claims are the verified bearer token claims, nil when the token was
	// missing or invalid.
	Claims     *credentials.Claims
	ReceivedAt time.Time
}

type responseQueue struct {
	responses []*mockResponse
	next      int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock configures the responses of one operation.
type OperationMock struct {
	service   *MockService
	operation string
}

func newMockService(t *testing.T, ops []model.OperationDefinition, secret []byte, profile config.CredentialConfig) *MockService {
	t.Helper()

	ms := &MockService{
		t:        t,
		secret:   secret,
		profile:  profile,
		queued:   make(map[string]*responseQueue),
		received: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for _, op := range ops {
		if op.Binding.Type != definition.BindingREST || op.Binding.Path == "" {
			continue
		}
		mux.HandleFunc(strings.ToUpper(op.Binding.Method)+" "+op.Binding.Path, ms.handle(op.Name))
	}

	ms.server = httptest.NewServer(mux)
	t.Cleanup(ms.server.Close)
	return ms
}

// URL returns the base URL of the mock service.
func (ms *MockService) URL() string {
	return ms.server.URL
}

// Close stops the server so later requests fail to connect.
func (ms *MockService) Close() {
	ms.server.Close()
}

// On returns a builder for the responses of the named operation.
func (ms *MockService) On(operation string) *OperationMock {
	return &OperationMock{service: ms, operation: operation}
}

// RespondWith queues a JSON reply.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.service.enqueue(om.operation, &mockResponse{status: status, body: body})
	return om
}

// RespondWithError queues an error reply in the service's error shape.
func (om *OperationMock) RespondWithError(status int, code, message string) *OperationMock {
	return om.RespondWith(status, map[string]any{"__type": "omics#" + code, "message": message})
}

// RespondWithDelay queues a reply that is sent after delay.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.service.enqueue(om.operation, &mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError queues a reply that drops the connection.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.service.enqueue(om.operation, &mockResponse{connError: true})
	return om
}

func (ms *MockService) enqueue(operation string, resp *mockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	q, ok := ms.queued[operation]
	if !ok {
		q = &responseQueue{}
		ms.queued[operation] = q
	}
	q.responses = append(q.responses, resp)
}

// nextResponse returns the next queued reply; the last one repeats.
func (ms *MockService) nextResponse(operation string) *mockResponse {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	q, ok := ms.queued[operation]
	if !ok || len(q.responses) == 0 {
		return nil
	}
	idx := q.next
	if idx >= len(q.responses) {
		idx = len(q.responses) - 1
	} else {
		q.next++
	}
	return q.responses[idx]
}

func (ms *MockService) handle(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.Query(),
			Header:     r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err == nil {
				rec.Body = body
			}
		}
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if claims, err := credentials.Verify(token, ms.secret, ms.profile); err == nil {
				rec.Claims = claims
			}
		}

		ms.mu.Lock()
		ms.received[operation] = append(ms.received[operation], rec)
		ms.mu.Unlock()

		if rec.Claims == nil {
			writeMockJSON(w, http.StatusForbidden, map[string]any{
				"__type":  "omics#AccessDeniedException",
				"message": "request signature is missing or invalid",
			})
			return
		}

		resp := ms.nextResponse(operation)
		if resp == nil {
			writeMockJSON(w, http.StatusOK, map[string]any{})
			return
		}
		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}
		writeMockJSON(w, resp.status, resp.body)
	}
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// Calls returns the number of requests received for operation.
func (ms *MockService) Calls(operation string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.received[operation])
}

// AssertCalled verifies the number of requests received for operation.
func (ms *MockService) AssertCalled(t *testing.T, operation string, want int) {
	t.Helper()
	if got := ms.Calls(operation); got != want {
		t.Errorf("mock: %s called %d times, want %d", operation, got, want)
	}
}

// LastRequest returns the last request received for operation, or nil.
func (ms *MockService) LastRequest(operation string) *RecordedRequest {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	reqs := ms.received[operation]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}
