// Package transport is the headless HTTP host: a chi router that lists the
// operation table and runs invocations on behalf of remote callers.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/seqctl/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrConfiguration:      http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrCancelled:          http.StatusRequestTimeout,
	model.ErrConflict:           http.StatusConflict,
	model.ErrNotConfirmed:       http.StatusPreconditionFailed,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrConnectivity:       http.StatusBadGateway,
	model.ErrService:            http.StatusBadGateway,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
}

// StatusFor returns the HTTP status reported for err. A service reply keeps
// its own status when it is an error status.
func StatusFor(err error) int {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		if status, ok := statusForCode[ee.Code]; ok {
			return status
		}
		return http.StatusInternalServerError
	}
	var se *model.ServiceError
	if errors.As(err, &se) {
		if se.StatusCode >= 400 && se.StatusCode < 600 {
			return se.StatusCode
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as an error envelope with the matching status code.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), errorResponse{Error: envelope(err)})
}

// envelope is model.EnvelopeFor with internal errors reduced to the generic
// INTERNAL_ERROR message.
func envelope(err error) *model.ErrorEnvelope {
	ee := model.EnvelopeFor(err)
	if ee != nil && ee.Code == model.ErrInternalError {
		return model.NewInternalError()
	}
	return ee
}

// invocationResponse is the reply for one invocation, successful or not.
type invocationResponse struct {
	Index        *int                 `json:"index,omitempty"`
	InvocationID string               `json:"invocation_id,omitempty"`
	Operation    string               `json:"operation"`
	Outcome      string               `json:"outcome"`
	Output       any                  `json:"output,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
	Error        *model.ErrorEnvelope `json:"error,omitempty"`
}

func newInvocationResponse(operation string, inv *model.Invocation, out any, warnings []string, err error) invocationResponse {
	resp := invocationResponse{
		Operation: operation,
		Outcome:   "ok",
		Output:    out,
		Warnings:  warnings,
	}
	if inv != nil {
		resp.InvocationID = inv.ID
		resp.Operation = inv.Operation
	}
	if err != nil {
		resp.Outcome = model.ErrorCode(err)
		resp.Error = envelope(err)
	}
	return resp
}
