package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/seqctl/internal/command"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/model"
)

// maxBodyBytes bounds invoke and batch request bodies.
const maxBodyBytes = 1 << 20

type handlers struct {
	operations Catalog
	invoker    Invoker
	metrics    *observability.Metrics
	parallel   int
}

// operationSummary is one row of the operation listing.
type operationSummary struct {
	Name        string `json:"name"`
	Service     string `json:"service"`
	Mutating    bool   `json:"mutating"`
	Description string `json:"description,omitempty"`
}

func (h *handlers) listOperations(w http.ResponseWriter, _ *http.Request) {
	ops := h.operations.AllOperations()
	out := make([]operationSummary, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationSummary{
			Name:        op.Name,
			Service:     op.Binding.ServiceID,
			Mutating:    op.Mutating,
			Description: op.Description,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operations": out})
}

func (h *handlers) describeOperation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	op, ok := h.operations.GetOperation(name)
	if !ok {
		WriteError(w, model.NewNotFoundError(fmt.Sprintf("operation %q is not defined", name)))
		return
	}
	WriteJSON(w, http.StatusOK, op)
}

// invokeRequest is the body of an invoke call. The operation comes from the
// URL.
type invokeRequest struct {
	Inputs   map[string]any `json:"inputs"`
	Select   string         `json:"select"`
	PassThru bool           `json:"pass_thru"`
	Region   string         `json:"region"`
	Profile  string         `json:"profile"`
	Confirm  bool           `json:"confirm"`
}

func (h *handlers) invoke(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}

	res := h.invoker.Run(r.Context(), model.InvocationInput{
		Operation: chi.URLParam(r, "operation"),
		Inputs:    body.Inputs,
		Select:    body.Select,
		PassThru:  body.PassThru,
		Region:    body.Region,
		Profile:   body.Profile,
		Confirm:   body.Confirm,
	}, command.RequireConfirmFlag)

	status := http.StatusOK
	if res.Err != nil {
		status = StatusFor(res.Err)
	}
	WriteJSON(w, status, resultResponse(res, false))
}

// batchRequest is the body of a batch call.
type batchRequest struct {
	Items    []model.InvocationInput `json:"items"`
	Parallel int                     `json:"parallel"`
}

// batchResponse always carries one result per item, in item order.
type batchResponse struct {
	Results   []invocationResponse `json:"results"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if len(body.Items) == 0 {
		WriteError(w, model.NewConfigurationError("batch has no items"))
		return
	}

	parallel := body.Parallel
	if parallel <= 0 {
		parallel = h.parallel
	}

	results, _ := h.invoker.RunBatch(r.Context(), body.Items, command.BatchOptions{
		Parallelism: parallel,
		Confirm:     command.RequireConfirmFlag,
		OnItem: func(res command.Result) {
			if h.metrics != nil {
				h.metrics.RecordBatchItem(res.Outcome())
			}
		},
	})

	resp := batchResponse{Results: make([]invocationResponse, 0, len(results))}
	for _, res := range results {
		if res.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, resultResponse(res, true))
	}
	WriteJSON(w, http.StatusOK, resp)
}

func resultResponse(res command.Result, indexed bool) invocationResponse {
	resp := newInvocationResponse(res.Operation, res.Invocation, res.Output, res.Warnings, res.Err)
	if indexed {
		i := res.Index
		resp.Index = &i
	}
	return resp
}

// decodeBody reads a JSON body; an empty body leaves v unchanged. Numbers
// are kept as json.Number so integer parameters survive decoding exactly.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewConfigurationError("invalid request body: %v", err)
	}
	return nil
}
