package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pitabwire/seqctl/internal/transport"
	"github.com/pitabwire/seqctl/model"
)

func TestSecurity_HostRequiresToken(t *testing.T) {
	h := NewHarness(t, WithHostAuth())

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"valid token", h.Token(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Do(http.MethodGet, "/v1/operations", tt.token, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusUnauthorized {
				return
			}
			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != model.ErrUnauthorized {
				t.Errorf("code = %q, want %s", body.Error.Code, model.ErrUnauthorized)
			}
		})
	}
}

func TestSecurity_ProbesStayOpen(t *testing.T) {
	h := NewHarness(t, WithHostAuth())

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := h.Do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestSecurity_ResponseHeaders(t *testing.T) {
	h := NewHarness(t)

	resp := h.Do(http.MethodGet, "/v1/operations", "", nil)
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := resp.Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if resp.Header.Get(transport.RequestIDHeader) == "" {
		t.Errorf("%s is not set", transport.RequestIDHeader)
	}
}

func TestSecurity_InternalErrorsAreGeneric(t *testing.T) {
	h := NewHarness(t)
	h.Service.On("GetWorkflow").RespondWith(http.StatusOK, "not an object")

	status, res := h.Invoke("GetWorkflow", map[string]any{"inputs": map[string]any{"Id": "wf-1"}})
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if res.Error == nil || res.Error.Code != model.ErrInternalError || res.Error.Message != "An unexpected error occurred" {
		t.Errorf("error = %+v, want the generic internal error", res.Error)
	}
}

func TestSecurity_RejectsUnknownBodyFields(t *testing.T) {
	h := NewHarness(t)

	resp := h.Do(http.MethodPost, "/v1/operations/GetWorkflow/invoke", "", map[string]any{"inputz": map[string]any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	h.Service.AssertCalled(t, "GetWorkflow", 0)
}
