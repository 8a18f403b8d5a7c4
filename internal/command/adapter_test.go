package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/seqctl/definitions"
	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/definition"
	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/model"
)

// --- fakes ---

type fakeClient struct {
	mu       sync.Mutex
	requests []model.Request
	ops      []string
	invokeFn func(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error)
	endpoint model.EndpointInfo
}

func (c *fakeClient) Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.ops = append(c.ops, op.Name)
	c.mu.Unlock()
	if c.invokeFn == nil {
		return model.Response{}, nil
	}
	return c.invokeFn(ctx, op, req)
}

func (c *fakeClient) Endpoint(string) model.EndpointInfo { return c.endpoint }

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeClient) lastRequest(t *testing.T) model.Request {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		t.Fatal("client was never invoked")
	}
	return c.requests[len(c.requests)-1]
}

type fakeClients struct {
	mu     sync.Mutex
	client model.Client
	err    error
	scopes []model.Scope
}

func (f *fakeClients) Get(scope model.Scope) (model.Client, error) {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnInvocation(_ context.Context, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) last(t *testing.T) Event {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.events) == 0 {
		t.Fatal("no events recorded")
	}
	return o.events[len(o.events)-1]
}

func testOperations(t *testing.T) *definition.Registry {
	t.Helper()
	defs, err := definition.NewLoader().LoadFS(definitions.FS)
	if err != nil {
		t.Fatalf("loading built-in table: %v", err)
	}
	return definition.NewRegistry(defs)
}

var testScope = model.Scope{Region: "eu-west-1", Profile: "default"}

func newTestAdapter(t *testing.T, client *fakeClient, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithDefaultScope(testScope)}, opts...)
	return NewAdapter(testOperations(t), &fakeClients{client: client}, opts...)
}

// --- CreateContext ---

func TestCreateContext_unknownOperation(t *testing.T) {
	a := newTestAdapter(t, &fakeClient{})

	_, err := a.CreateContext(context.Background(), "NoSuchOperation")
	if model.ErrorCode(err) != model.ErrNotFound {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestCreateContext_freshPerCall(t *testing.T) {
	a := newTestAdapter(t, &fakeClient{})
	ctx := model.WithScope(context.Background(), model.Scope{Region: "us-west-2"})

	first, err := a.CreateContext(ctx, "listannotationimportjobs")
	if err != nil {
		t.Fatalf("CreateContext error: %v", err)
	}
	second, _ := a.CreateContext(ctx, "ListAnnotationImportJobs")

	if first == second || first.ID == second.ID {
		t.Error("invocations must not be shared")
	}
	if first.Operation != "ListAnnotationImportJobs" {
		t.Errorf("Operation = %q, want declared spelling", first.Operation)
	}
	if first.Scope != (model.Scope{Region: "us-west-2", Profile: "default"}) {
		t.Errorf("Scope = %+v, want context region over default profile", first.Scope)
	}
	if first.Selector != model.NamedField("annotationImportJobs") {
		t.Errorf("Selector = %v, want the default selector", first.Selector)
	}
}

func TestCreateContext_customFactory(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAdapter(t, &fakeClient{}, WithContextFactory(func(op model.OperationDefinition, scope model.Scope) *model.Invocation {
		return &model.Invocation{ID: "inv-fixed", Operation: op.Name, Scope: scope, CreatedAt: fixed, Definition: op}
	}))

	inv, err := a.CreateContext(context.Background(), "GetRun")
	if err != nil {
		t.Fatalf("CreateContext error: %v", err)
	}
	if inv.ID != "inv-fixed" || !inv.CreatedAt.Equal(fixed) {
		t.Errorf("inv = %+v, want the fake context", inv)
	}
	if inv.Bound == nil {
		t.Error("Bound should be initialised")
	}
}

// --- Bind + Execute scenarios ---

func TestInvoke_getWorkflowScenario(t *testing.T) {
	resp := model.Response{"id": "wf-123", "name": "variant-calling", "status": "ACTIVE"}
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return resp, nil
	}}
	a := newTestAdapter(t, client)

	_, out, err := a.Invoke(context.Background(), "GetWorkflow",
		map[string]any{"Id": "wf-123", "Export": []string{"DEFINITION"}}, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	want := model.Request{"id": "wf-123", "export": []string{"DEFINITION"}}
	if got := client.lastRequest(t); !reflect.DeepEqual(got, want) {
		t.Errorf("request = %#v, want %#v", got, want)
	}
	if !reflect.DeepEqual(out, resp) {
		t.Errorf("output = %#v, want the whole response", out)
	}
}

func TestInvoke_filterStatusOnly(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "ListAnnotationImportJobs",
		map[string]any{"Filter_Status": "FAILED"}, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	req := client.lastRequest(t)
	filter, ok := req["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter = %#v, want a sub-object", req["filter"])
	}
	if !reflect.DeepEqual(filter, map[string]any{"status": "FAILED"}) {
		t.Errorf("filter = %#v, want only status", filter)
	}
	if len(req) != 1 {
		t.Errorf("request = %#v, want only the filter", req)
	}
}

func TestInvoke_emptyFilterGroupOmitted(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "ListAnnotationImportJobs",
		map[string]any{"MaxResult": 10, "Filter_Status": nil}, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	req := client.lastRequest(t)
	if _, ok := req["filter"]; ok {
		t.Errorf("request = %#v, filter must be absent", req)
	}
	if req["maxResults"] != 10 {
		t.Errorf("maxResults = %#v, want 10", req["maxResults"])
	}
}

func TestBind_listIsCopied(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)
	ctx := context.Background()

	ids := []string{"job-1", "job-2"}
	inv, _ := a.CreateContext(ctx, "ListAnnotationImportJobs")
	if err := a.Bind(ctx, inv, map[string]any{"Ids": ids}, BindOptions{}); err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	ids[0] = "mutated"
	ids = append(ids, "job-3")

	if _, err := a.Execute(ctx, inv); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	got := client.lastRequest(t)["ids"]
	if !reflect.DeepEqual(got, []string{"job-1", "job-2"}) {
		t.Errorf("ids = %#v, want the list as bound", got)
	}
}

func TestInvoke_missingMandatoryStillCalls(t *testing.T) {
	client := &fakeClient{}
	obs := &recordingObserver{}
	a := newTestAdapter(t, client, WithObserver(obs))

	inv, _, err := a.Invoke(context.Background(), "GetWorkflow", nil, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if client.calls() != 1 {
		t.Errorf("calls = %d, want 1", client.calls())
	}
	if len(inv.Warnings) != 1 || !strings.Contains(inv.Warnings[0], "Id") {
		t.Errorf("Warnings = %v, want one for Id", inv.Warnings)
	}
	if got := obs.last(t).Missing; !reflect.DeepEqual(got, []string{"Id"}) {
		t.Errorf("event Missing = %v", got)
	}
}

func TestBind_emptyMandatoryValueWarns(t *testing.T) {
	a := newTestAdapter(t, &fakeClient{})
	ctx := context.Background()

	inv, _ := a.CreateContext(ctx, "GetWorkflow")
	if err := a.Bind(ctx, inv, map[string]any{"Id": ""}, BindOptions{}); err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if !reflect.DeepEqual(inv.Missing, []string{"Id"}) {
		t.Errorf("Missing = %v, want [Id]", inv.Missing)
	}
	if v, ok := inv.Value("id"); !ok || v != "" {
		t.Errorf("explicit empty value should stay bound, got %v, %v", v, ok)
	}
}

func TestInvoke_failPolicyRejectsMissingMandatory(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client, WithMandatoryPolicy(config.MandatoryFail))

	_, _, err := a.Invoke(context.Background(), "StartRun", map[string]any{"WorkflowId": "wf-1"}, BindOptions{})

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if len(ee.Details) != 1 || ee.Details[0].Field != "RoleArn" || ee.Details[0].Code != "REQUIRED" {
		t.Errorf("Details = %+v", ee.Details)
	}
	if client.calls() != 0 {
		t.Error("client must not be invoked")
	}
}

func TestBind_unknownParameter(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Bogus": "x"}, BindOptions{})
	if !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
	if client.calls() != 0 {
		t.Error("client must not be invoked")
	}
}

func TestBind_invalidType(t *testing.T) {
	a := newTestAdapter(t, &fakeClient{})

	_, _, err := a.Invoke(context.Background(), "ListRuns", map[string]any{"MaxResult": "ten"}, BindOptions{})

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if ee.Details[0].Field != "MaxResult" || ee.Details[0].Code != "INVALID_TYPE" {
		t.Errorf("Details = %+v", ee.Details)
	}
}

// --- selectors ---

func TestSelect_inputEchoIgnoresResponseField(t *testing.T) {
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return model.Response{"id": "from-response", "Id": "from-response"}, nil
	}}
	a := newTestAdapter(t, client)

	_, out, err := a.Invoke(context.Background(), "GetWorkflow",
		map[string]any{"Id": "wf-123"}, BindOptions{Select: "^Id"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "wf-123" {
		t.Errorf("output = %v, want the bound input", out)
	}
}

func TestSelect_passThruEchoesPrimaryParameter(t *testing.T) {
	a := newTestAdapter(t, &fakeClient{})

	_, out, err := a.Invoke(context.Background(), "DeleteShare",
		map[string]any{"ShareId": "share-9"}, BindOptions{PassThru: true})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "share-9" {
		t.Errorf("output = %v, want share-9", out)
	}
}

func TestSelect_passThruWithSelectIsConfigurationError(t *testing.T) {
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		t.Error("client must not be invoked")
		return nil, nil
	}}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "GetWorkflow",
		map[string]any{"Id": "wf-1"}, BindOptions{Select: "status", PassThru: true})
	if !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
	if client.calls() != 0 {
		t.Errorf("calls = %d, want 0", client.calls())
	}
}

func TestSelect_unknownFieldIsConfigurationError(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)

	for _, sel := range []string{"noSuchField", "^NoSuchParam"} {
		_, _, err := a.Invoke(context.Background(), "GetWorkflow",
			map[string]any{"Id": "wf-1"}, BindOptions{Select: sel})
		if !model.IsConfigurationError(err) {
			t.Errorf("Select %q: err = %v, want CONFIGURATION_ERROR", sel, err)
		}
	}
	if client.calls() != 0 {
		t.Errorf("calls = %d, want 0", client.calls())
	}
}

func TestSelect_nestedNamedField(t *testing.T) {
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return model.Response{"tags": map[string]any{"project": "1000genomes"}}, nil
	}}
	a := newTestAdapter(t, client)

	_, out, err := a.Invoke(context.Background(), "GetWorkflow",
		map[string]any{"Id": "wf-1"}, BindOptions{Select: "Tags.project"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "1000genomes" {
		t.Errorf("output = %v, want 1000genomes", out)
	}
}

// --- failures ---

func TestExecute_cancelledMidFlight(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{invokeFn: func(ctx context.Context, _ model.OperationDefinition, _ model.Request) (model.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	a := newTestAdapter(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	inv, _, err := a.Invoke(ctx, "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
	if !model.IsCancelled(err) {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
	var ie *model.InvocationError
	if !errors.As(err, &ie) || ie.Invocation != inv {
		t.Errorf("err should be paired with its invocation, got %#v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cause should be context.Canceled")
	}
}

func TestExecute_cancelledBeforeDispatch(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	inv, _ := a.CreateContext(ctx, "GetRun")
	cancel()

	if _, err := a.Execute(ctx, inv); !model.IsCancelled(err) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
	if client.calls() != 0 {
		t.Error("client must not be invoked")
	}
}

func TestExecute_connectivityErrorsRewritten(t *testing.T) {
	endpoint := model.EndpointInfo{URL: "https://omics.eu-west-1.example.com", Region: "eu-west-1", Profile: "default"}

	cases := []struct {
		name string
		err  error
	}{
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
		{"dns", fmt.Errorf("invoker: GET /run/x: %w", &net.DNSError{Err: "no such host", Name: "omics.eu-west-1.example.com"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{
				endpoint: endpoint,
				invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
					return nil, tc.err
				},
			}
			a := newTestAdapter(t, client)

			_, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
			if model.ErrorCode(err) != model.ErrConnectivity {
				t.Fatalf("err = %v, want CONNECTIVITY_ERROR", err)
			}
			if !strings.Contains(err.Error(), endpoint.URL) {
				t.Errorf("message %q should name the endpoint", err.Error())
			}
			if !errors.Is(err, tc.err) && !errors.Is(err, errors.Unwrap(tc.err)) {
				t.Error("original error should be kept as the cause")
			}
		})
	}
}

type deadlineError struct{}

func (deadlineError) Error() string {
	return "context deadline exceeded (Client.Timeout exceeded while awaiting headers)"
}
func (deadlineError) Timeout() bool { return true }

func TestExecute_clientTimeoutIsBackendTimeout(t *testing.T) {
	timeout := &url.Error{Op: "Get", URL: "https://omics.eu-west-1.example.com/run/run-1", Err: deadlineError{}}
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return nil, fmt.Errorf("invoker: GET /run/run-1: %w", timeout)
	}}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
	if model.ErrorCode(err) != model.ErrBackendTimeout {
		t.Fatalf("err = %v, want BACKEND_TIMEOUT", err)
	}
	if env := model.EnvelopeFor(err); !errors.Is(env, timeout) {
		t.Error("original error should be kept as the cause")
	}
}

func TestExecute_serviceErrorPassesThrough(t *testing.T) {
	svcErr := &model.ServiceError{StatusCode: 404, Code: "ResourceNotFoundException", Message: "run not found"}
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return nil, svcErr
	}}
	a := newTestAdapter(t, client)

	_, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})

	var got *model.ServiceError
	if !errors.As(err, &got) || got != svcErr {
		t.Fatalf("err = %v, want the service error unchanged", err)
	}
	if model.ErrorCode(err) != model.ErrService {
		t.Errorf("code = %s, want SERVICE_ERROR", model.ErrorCode(err))
	}
}

func TestExecute_clientUnavailable(t *testing.T) {
	clients := &fakeClients{err: model.NewConfigurationError("profile %q not configured", "lab")}
	a := NewAdapter(testOperations(t), clients, WithDefaultScope(model.Scope{Region: "eu-west-1", Profile: "lab"}))

	_, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
	if !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
	if len(clients.scopes) != 1 || clients.scopes[0].Profile != "lab" {
		t.Errorf("scopes = %+v", clients.scopes)
	}
}

// --- idempotency ---

func startRunInputs(workflow string) map[string]any {
	return map[string]any{
		"WorkflowId": workflow,
		"RoleArn":    "arn:aws:iam::123456789012:role/omics",
		"RequestId":  "tok-1",
	}
}

func TestExecute_idempotentReplay(t *testing.T) {
	n := 0
	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		n++
		return model.Response{"id": fmt.Sprintf("run-%d", n), "status": "PENDING"}, nil
	}}
	obs := &recordingObserver{}
	a := newTestAdapter(t, client, WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Hour), WithObserver(obs))
	ctx := context.Background()

	_, first, err := a.Invoke(ctx, "StartRun", startRunInputs("wf-1"), BindOptions{})
	if err != nil {
		t.Fatalf("first Invoke error: %v", err)
	}
	_, second, err := a.Invoke(ctx, "StartRun", startRunInputs("wf-1"), BindOptions{})
	if err != nil {
		t.Fatalf("second Invoke error: %v", err)
	}

	if first != "run-1" || second != "run-1" {
		t.Errorf("outputs = %v, %v; want run-1 twice", first, second)
	}
	if client.calls() != 1 {
		t.Errorf("calls = %d, want 1", client.calls())
	}
	if !obs.last(t).Replayed {
		t.Error("second event should be marked replayed")
	}

	_, _, err = a.Invoke(ctx, "StartRun", startRunInputs("wf-2"), BindOptions{})
	if model.ErrorCode(err) != model.ErrConflict {
		t.Errorf("err = %v, want CONFLICT for a reused token", err)
	}
	if client.calls() != 1 {
		t.Errorf("calls = %d, want 1", client.calls())
	}
}

func TestExecute_sameTokenInTwoRegions(t *testing.T) {
	client := &fakeClient{invokeFn: func(_ context.Context, _ model.OperationDefinition, _ model.Request) (model.Response, error) {
		return model.Response{"id": "run-1"}, nil
	}}
	clients := &fakeClients{client: client}
	a := NewAdapter(testOperations(t), clients,
		WithDefaultScope(testScope),
		WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Hour))

	for _, region := range []string{"eu-west-1", "us-east-1"} {
		ctx := model.WithScope(context.Background(), model.Scope{Region: region})
		if _, _, err := a.Invoke(ctx, "StartRun", startRunInputs("wf-1"), BindOptions{}); err != nil {
			t.Fatalf("%s: Invoke error: %v", region, err)
		}
	}

	if client.calls() != 2 {
		t.Errorf("calls = %d, want one per region", client.calls())
	}
	if len(clients.scopes) != 2 || clients.scopes[1].Region != "us-east-1" {
		t.Errorf("scopes = %+v", clients.scopes)
	}
}

func TestExecute_noTokenNoDeduplication(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client, WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Hour))

	inputs := startRunInputs("wf-1")
	delete(inputs, "RequestId")
	for range 2 {
		if _, _, err := a.Invoke(context.Background(), "StartRun", inputs, BindOptions{}); err != nil {
			t.Fatalf("Invoke error: %v", err)
		}
	}
	if client.calls() != 2 {
		t.Errorf("calls = %d, want 2", client.calls())
	}
}

// --- schema check ---

func loadTestIndex(t *testing.T) *openapi.Index {
	t.Helper()
	idx := openapi.NewIndex()
	if err := idx.Load([]openapi.SpecSource{{ServiceID: "omics", SpecPath: "../openapi/testdata/omics.yaml"}}); err != nil {
		t.Fatalf("loading index: %v", err)
	}
	return idx
}

func TestExecute_schemaGapsWarn(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client, WithSchemaIndex(loadTestIndex(t)))

	inputs := startRunInputs("wf-1")
	delete(inputs, "RequestId")
	inv, _, err := a.Invoke(context.Background(), "StartRun", inputs, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if len(inv.Warnings) != 1 || !strings.Contains(inv.Warnings[0], "requestId") {
		t.Errorf("Warnings = %v, want one for requestId", inv.Warnings)
	}
	if client.calls() != 1 {
		t.Errorf("calls = %d, want 1", client.calls())
	}
}

func TestExecute_schemaGapsFailUnderFailPolicy(t *testing.T) {
	client := &fakeClient{}
	a := newTestAdapter(t, client, WithSchemaIndex(loadTestIndex(t)), WithMandatoryPolicy(config.MandatoryFail))

	inputs := startRunInputs("wf-1")
	delete(inputs, "RequestId")
	_, _, err := a.Invoke(context.Background(), "StartRun", inputs, BindOptions{})
	if model.ErrorCode(err) != model.ErrValidationError {
		t.Errorf("err = %v, want VALIDATION_ERROR", err)
	}
	if client.calls() != 0 {
		t.Error("client must not be invoked")
	}
}

// --- observers and tracing ---

func TestObservers_outcomes(t *testing.T) {
	client := &fakeClient{invokeFn: func(_ context.Context, _ model.OperationDefinition, req model.Request) (model.Response, error) {
		if req["id"] == "missing" {
			return nil, &model.ServiceError{StatusCode: 404}
		}
		return model.Response{}, nil
	}}
	obs := &recordingObserver{}
	a := newTestAdapter(t, client, WithObserver(obs))
	ctx := context.Background()

	a.Invoke(ctx, "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
	a.Invoke(ctx, "GetRun", map[string]any{"Id": "missing"}, BindOptions{})
	a.Invoke(ctx, "NoSuchOperation", nil, BindOptions{})

	if len(obs.events) != 3 {
		t.Fatalf("events = %d, want 3", len(obs.events))
	}
	wants := []string{OutcomeOK, model.ErrService, model.ErrNotFound}
	for i, want := range wants {
		if obs.events[i].Outcome != want {
			t.Errorf("event %d outcome = %q, want %q", i, obs.events[i].Outcome, want)
		}
	}
	if obs.events[0].InvocationID == "" || obs.events[0].Region != "eu-west-1" {
		t.Errorf("event 0 = %+v", obs.events[0])
	}
	if obs.events[2].Operation != "NoSuchOperation" {
		t.Errorf("event 2 operation = %q", obs.events[2].Operation)
	}
}

func TestExecute_recordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	a := newTestAdapter(t, &fakeClient{})
	inv, _, err := a.Invoke(context.Background(), "GetRun", map[string]any{"Id": "run-1"}, BindOptions{})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "invoke GetRun" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	attrs := spanAttributes(spans[0])
	want := map[string]string{
		"seqctl.invocation_id": inv.ID,
		"seqctl.service_id":    "omics",
		"seqctl.region":        "eu-west-1",
		"seqctl.profile":       "default",
		"seqctl.selector":      "*",
	}
	for key, value := range want {
		if attrs[key] != value {
			t.Errorf("%s = %q, want %q", key, attrs[key], value)
		}
	}
	if _, ok := attrs["seqctl.error_code"]; ok {
		t.Error("successful span should not carry an error code")
	}
}

func TestExecute_spanCarriesErrorCode(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	client := &fakeClient{invokeFn: func(context.Context, model.OperationDefinition, model.Request) (model.Response, error) {
		return nil, &model.ServiceError{StatusCode: 404, Code: "ResourceNotFoundException"}
	}}
	a := newTestAdapter(t, client)
	a.Invoke(context.Background(), "GetWorkflow", map[string]any{"Id": "wf-1"}, BindOptions{Select: "name"})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := spanAttributes(spans[0])
	if attrs["seqctl.error_code"] != model.ErrService {
		t.Errorf("error_code = %q, want %s", attrs["seqctl.error_code"], model.ErrService)
	}
	if attrs["seqctl.selector"] != "name" {
		t.Errorf("selector = %q, want name", attrs["seqctl.selector"])
	}
}

func spanAttributes(span tracetest.SpanStub) map[string]string {
	attrs := make(map[string]string, len(span.Attributes))
	for _, attr := range span.Attributes {
		attrs[string(attr.Key)] = attr.Value.Emit()
	}
	return attrs
}
