package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/definition"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/model"
)

const defaultServiceTimeout = 30 * time.Second

// TokenSource mints bearer credentials for outbound requests.
type TokenSource interface {
	Token() (string, error)
}

// RESTOptions configures a RESTTransport.
type RESTOptions struct {
	// BaseURLs maps service IDs to resolved base URLs.
	BaseURLs map[string]string
	Services map[string]config.ServiceConfig
	// Index resolves operation_id bindings. May be nil when every binding
	// names its method and path.
	Index  *openapi.Index
	Tokens TokenSource
	Logger *zap.Logger

	OnBreakerChange StateChangeFunc
	// OnResponse is called once per request with the HTTP status, or 0 when
	// no response was received.
	OnResponse func(serviceID string, status int)
}

// serviceClient holds the resty client and circuit breaker for one service.
type serviceClient struct {
	http    *resty.Client
	breaker *CircuitBreaker
}

// RESTTransport sends operations to services over HTTP/JSON. It never
// retries: each invocation produces exactly one request.
type RESTTransport struct {
	index      *openapi.Index
	tokens     TokenSource
	logger     *zap.Logger
	onResponse func(serviceID string, status int)
	clients    map[string]*serviceClient
}

// NewRESTTransport creates one resty client and breaker per service with a
// base URL.
func NewRESTTransport(opts RESTOptions) *RESTTransport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &RESTTransport{
		index:      opts.Index,
		tokens:     opts.Tokens,
		logger:     logger,
		onResponse: opts.OnResponse,
		clients:    make(map[string]*serviceClient, len(opts.BaseURLs)),
	}

	for id, baseURL := range opts.BaseURLs {
		svcCfg := opts.Services[id]
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = defaultServiceTimeout
		}

		client := resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Accept", "application/json").
			SetLogger(logger.Named("resty").Sugar())
		client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			observability.InjectTraceHeaders(r.Context(), r.Header)
			return nil
		})

		t.clients[id] = &serviceClient{
			http:    client,
			breaker: NewCircuitBreaker(id, svcCfg.CircuitBreaker, opts.OnBreakerChange),
		}
	}
	return t
}

// Supports returns true for rest bindings.
func (t *RESTTransport) Supports(binding model.OperationBinding) bool {
	return binding.Type == definition.BindingREST
}

// Invoke builds and sends the single HTTP request for op. A cancelled
// context is returned as the context error; transport failures are wrapped
// with %w so the caller can inspect the cause.
func (t *RESTTransport) Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
	serviceID := op.Binding.ServiceID
	svc, ok := t.clients[serviceID]
	if !ok {
		return nil, model.NewConfigurationError("service %q has no configured endpoint", serviceID)
	}

	method, path, err := t.resolve(op)
	if err != nil {
		return nil, err
	}

	if err := svc.breaker.Allow(); err != nil {
		return nil, err
	}

	r := svc.http.R().SetContext(ctx)
	body := placeFields(r, op, req)
	if len(body) > 0 || hasBody(method) {
		r.SetBody(body)
	}

	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("invoker: sign request: %w", err)
		}
		r.SetAuthToken(token)
	}

	t.logger.Debug("sending request",
		zap.String("operation", op.Name),
		zap.String("method", method),
		zap.String("path", path),
		zap.Any("body", observability.RedactBody(body, nil)),
	)

	resp, err := r.Execute(method, path)
	if err != nil {
		t.observe(serviceID, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		svc.breaker.RecordFailure()
		return nil, fmt.Errorf("invoker: %s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	t.observe(serviceID, status)
	switch {
	case status >= http.StatusInternalServerError:
		svc.breaker.RecordFailure()
	case status < http.StatusBadRequest:
		svc.breaker.RecordSuccess()
	}

	if status >= http.StatusMultipleChoices {
		return nil, serviceError(resp)
	}
	return decodeResponse(resp.Body())
}

// resolve returns the HTTP method and path template for op. An explicit
// method and path in the binding take precedence over the OpenAPI index.
func (t *RESTTransport) resolve(op model.OperationDefinition) (method, path string, err error) {
	b := op.Binding
	if b.Method != "" && b.Path != "" {
		return strings.ToUpper(b.Method), b.Path, nil
	}
	if t.index != nil && b.OperationID != "" {
		if indexed, ok := t.index.GetOperation(b.ServiceID, b.OperationID); ok {
			return indexed.Method, indexed.PathTemplate, nil
		}
	}
	return "", "", model.NewConfigurationError(
		"operation %s: cannot resolve %s/%s to an HTTP method and path", op.Name, b.ServiceID, b.OperationID)
}

func (t *RESTTransport) observe(serviceID string, status int) {
	if t.onResponse != nil {
		t.onResponse(serviceID, status)
	}
}

// Breaker returns the circuit breaker guarding serviceID.
func (t *RESTTransport) Breaker(serviceID string) (*CircuitBreaker, bool) {
	svc, ok := t.clients[serviceID]
	if !ok {
		return nil, false
	}
	return svc.breaker, true
}

// placeFields sets path and query parameters on r and returns the remaining
// top-level request members as the JSON body. req is not modified.
func placeFields(r *resty.Request, op model.OperationDefinition, req model.Request) map[string]any {
	placed := make(map[string]bool)
	query := url.Values{}

	for _, p := range op.Parameters {
		loc := p.ParamLocation()
		if loc == model.LocationBody {
			continue
		}
		field := p.FieldPath()[0]
		placed[field] = true
		v, ok := req[field]
		if !ok {
			continue
		}
		switch loc {
		case model.LocationPath:
			r.SetPathParam(field, stringify(v))
		case model.LocationQuery:
			if list, isList := v.([]string); isList {
				for _, item := range list {
					query.Add(field, item)
				}
			} else {
				query.Set(field, stringify(v))
			}
		}
	}
	if len(query) > 0 {
		r.SetQueryParamsFromValues(query)
	}

	body := make(map[string]any, len(req))
	for k, v := range req {
		if !placed[k] {
			body[k] = v
		}
	}
	return body
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// decodeResponse parses a JSON object reply. An empty body is an empty
// Response.
func decodeResponse(data []byte) (model.Response, error) {
	resp := model.Response{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invoker: decode response: %w", err)
	}
	return resp, nil
}

// serviceError converts a non-success reply into a ServiceError, reading the
// error code and message from the common JSON error shapes.
func serviceError(resp *resty.Response) *model.ServiceError {
	se := &model.ServiceError{
		StatusCode: resp.StatusCode(),
		RequestID:  resp.Header().Get("X-Request-Id"),
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err == nil {
		se.Code = firstString(payload, "code", "__type", "Code")
		se.Message = firstString(payload, "message", "Message")
	}
	if se.Code == "" {
		se.Code = resp.Header().Get("X-Error-Type")
	}
	// Typed codes arrive as "namespace#Code".
	if i := strings.LastIndex(se.Code, "#"); i >= 0 {
		se.Code = se.Code[i+1:]
	}
	return se
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
