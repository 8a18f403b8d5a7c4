// Package command implements the generic invocation pipeline shared by every
// operation in the table: parameter binding, request construction, dispatch
// through a scope-bound client, response selection and error translation.
package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// OperationSource looks up operation descriptors by name.
type OperationSource interface {
	GetOperation(name string) (model.OperationDefinition, bool)
}

// ClientSource returns the shared client for a scope.
type ClientSource interface {
	Get(scope model.Scope) (model.Client, error)
}

// ContextFactory creates the Invocation for one call of op. Tests may
// substitute their own to control IDs and timestamps.
type ContextFactory func(op model.OperationDefinition, scope model.Scope) *model.Invocation

// NewInvocation is the default ContextFactory.
func NewInvocation(op model.OperationDefinition, scope model.Scope) *model.Invocation {
	return &model.Invocation{
		ID:         uuid.NewString(),
		Operation:  op.Name,
		Scope:      scope,
		Bound:      map[string]any{},
		CreatedAt:  time.Now().UTC(),
		Definition: op,
	}
}

// Adapter runs invocations of table-defined operations.
type Adapter struct {
	operations     OperationSource
	clients        ClientSource
	newContext     ContextFactory
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	index          *openapi.Index
	observers      []Observer
	logger         *zap.Logger
	policy         string
	defaultScope   model.Scope
}

// Option configures optional dependencies of the Adapter.
type Option func(*Adapter)

// WithContextFactory replaces the Invocation factory.
func WithContextFactory(f ContextFactory) Option {
	return func(a *Adapter) { a.newContext = f }
}

// WithIdempotencyStore enables client-token deduplication for operations
// that declare it. ttl applies when the operation does not name its own.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(a *Adapter) {
		a.idempotency = store
		if ttl > 0 {
			a.idempotencyTTL = ttl
		}
	}
}

// WithObserver adds an invocation observer.
func WithObserver(obs Observer) Option {
	return func(a *Adapter) { a.observers = append(a.observers, obs) }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithMandatoryPolicy sets how missing mandatory parameters are treated:
// config.MandatoryWarn (default) or config.MandatoryFail.
func WithMandatoryPolicy(policy string) Option {
	return func(a *Adapter) { a.policy = policy }
}

// WithDefaultScope sets the scope used for fields the context's scope
// leaves empty.
func WithDefaultScope(scope model.Scope) Option {
	return func(a *Adapter) { a.defaultScope = scope }
}

// WithSchemaIndex checks request bodies of rest operations against the
// required members of their OpenAPI request schema before dispatch.
func WithSchemaIndex(index *openapi.Index) Option {
	return func(a *Adapter) { a.index = index }
}

// NewAdapter creates an Adapter.
func NewAdapter(operations OperationSource, clients ClientSource, opts ...Option) *Adapter {
	a := &Adapter{
		operations:     operations,
		clients:        clients,
		newContext:     NewInvocation,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         zap.NewNop(),
		policy:         config.MandatoryWarn,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateContext returns a fresh Invocation for the named operation, scoped
// by the context's Scope merged over the default scope. The default
// selector is already resolved.
func (a *Adapter) CreateContext(ctx context.Context, operation string) (*model.Invocation, error) {
	op, ok := a.operations.GetOperation(operation)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("operation %q not found", operation))
	}

	scope, _ := model.ScopeFrom(ctx)
	inv := a.newContext(op, scope.Merge(a.defaultScope))
	if inv.Bound == nil {
		inv.Bound = map[string]any{}
	}

	sel, err := model.CompileSelector(op.DefaultSelector, op)
	if err != nil {
		return nil, err
	}
	inv.Selector = sel
	return inv, nil
}

// Bind validates and records the caller's inputs on inv and resolves its
// output selector. Selector errors are configuration errors and are
// reported before inputs are looked at. A missing mandatory parameter is a
// warning unless the adapter runs with the fail policy.
func (a *Adapter) Bind(ctx context.Context, inv *model.Invocation, inputs map[string]any, opts BindOptions) error {
	op := inv.Definition

	sel, err := resolveSelector(op, opts)
	if err != nil {
		return err
	}
	bound, missing, err := bindInputs(op, inputs)
	if err != nil {
		return err
	}

	inv.Bound = bound
	inv.Selector = sel
	inv.Missing = missing

	if len(missing) == 0 {
		return nil
	}

	logger := observability.InvocationLogger(ctx, a.logger, inv)
	details := make([]model.FieldError, 0, len(missing))
	for _, name := range missing {
		inv.Warn(fmt.Sprintf("mandatory parameter %s was not supplied", name))
		logger.Warn("mandatory parameter not supplied", zap.String("parameter", name))
		details = append(details, model.FieldError{
			Field:   name,
			Code:    "REQUIRED",
			Message: "parameter is mandatory",
		})
	}
	if a.policy == config.MandatoryFail {
		return model.NewValidationError(details)
	}
	return nil
}

// Execute builds the request for inv, sends it through the client of the
// invocation's scope and returns the selected output. It blocks until the
// client returns. Every failure is returned as *model.InvocationError.
func (a *Adapter) Execute(ctx context.Context, inv *model.Invocation) (out any, err error) {
	start := time.Now()
	replayed := false

	ctx, span := observability.StartSpan(ctx, "invoke "+inv.Operation,
		observability.AttrOperation.String(inv.Operation),
		observability.AttrInvocationID.String(inv.ID),
		observability.AttrServiceID.String(inv.Definition.Binding.ServiceID),
		observability.AttrRegion.String(inv.Scope.Region),
		observability.AttrProfile.String(inv.Scope.Profile),
		observability.AttrSelector.String(inv.Selector.String()),
	)
	defer func() {
		if err != nil {
			err = wrapInvocation(inv, err)
			span.SetAttributes(observability.AttrErrorCode.String(model.ErrorCode(err)))
		}
		span.SetAttributes(observability.AttrReplayed.Bool(replayed))
		observability.EndSpanWithError(span, err)
		a.notify(ctx, inv, inv.Operation, time.Since(start), replayed, err)
	}()

	if cerr := ctx.Err(); cerr != nil {
		return nil, model.NewCancelledError(cerr)
	}

	logger := observability.InvocationLogger(ctx, a.logger, inv)
	op := inv.Definition
	req := BuildRequest(op, inv.Bound)

	if verr := a.checkSchema(inv, req, logger); verr != nil {
		return nil, verr
	}

	key, hash, ttl, idem := a.idempotencyKey(inv, req)
	if idem {
		cached, found, cerr := a.idempotency.Check(ctx, key, hash)
		switch {
		case cerr != nil && model.ErrorCode(cerr) == model.ErrConflict:
			return nil, cerr
		case cerr != nil:
			logger.Warn("idempotency lookup failed", zap.Error(cerr))
		case found:
			replayed = true
			logger.Info("replaying stored response", zap.String("idempotency_key", key))
			return inv.Selector.Apply(cached, inv), nil
		}
	}

	client, cerr := a.clients.Get(inv.Scope)
	if cerr != nil {
		return nil, cerr
	}

	logger.Debug("invoking operation", zap.Any("request", observability.RedactBody(req, nil)))

	resp, ierr := client.Invoke(ctx, op, req)
	if ierr != nil {
		return nil, translateError(ctx, ierr, client.Endpoint(op.Binding.ServiceID))
	}

	if idem {
		if serr := a.idempotency.Store(ctx, key, hash, resp, ttl); serr != nil {
			logger.Warn("failed to store idempotent response", zap.Error(serr))
		}
	}

	return inv.Selector.Apply(resp, inv), nil
}

// Invoke creates, binds and executes one invocation of operation. The
// returned Invocation is nil only when the operation is unknown.
func (a *Adapter) Invoke(ctx context.Context, operation string, inputs map[string]any, opts BindOptions) (*model.Invocation, any, error) {
	start := time.Now()

	inv, err := a.CreateContext(ctx, operation)
	if err != nil {
		a.notify(ctx, nil, operation, time.Since(start), false, err)
		return nil, nil, wrapInvocation(nil, err)
	}
	out, err := a.bindAndExecute(ctx, inv, inputs, opts, start)
	return inv, out, err
}

func (a *Adapter) bindAndExecute(ctx context.Context, inv *model.Invocation, inputs map[string]any, opts BindOptions, start time.Time) (any, error) {
	if err := a.Bind(ctx, inv, inputs, opts); err != nil {
		a.notify(ctx, inv, inv.Operation, time.Since(start), false, err)
		return nil, wrapInvocation(inv, err)
	}
	return a.Execute(ctx, inv)
}

// Operation returns the descriptor of the named operation.
func (a *Adapter) Operation(name string) (model.OperationDefinition, bool) {
	return a.operations.GetOperation(name)
}

// checkSchema compares the JSON body of a rest request with the operation's
// OpenAPI request schema. Gaps are warnings unless the fail policy is set.
func (a *Adapter) checkSchema(inv *model.Invocation, req model.Request, logger *zap.Logger) error {
	op := inv.Definition
	if a.index == nil || op.Binding.Type != "rest" || op.Binding.OperationID == "" {
		return nil
	}
	if _, ok := a.index.GetOperation(op.Binding.ServiceID, op.Binding.OperationID); !ok {
		return nil
	}

	body := make(map[string]any, len(req))
	for k, v := range req {
		body[k] = v
	}
	for _, p := range op.Parameters {
		if p.ParamLocation() != model.LocationBody {
			delete(body, p.FieldPath()[0])
		}
	}

	verrs := a.index.ValidateRequest(op.Binding.ServiceID, op.Binding.OperationID, body)
	if len(verrs) == 0 {
		return nil
	}

	details := make([]model.FieldError, 0, len(verrs))
	for _, ve := range verrs {
		inv.Warn(ve.Message)
		logger.Warn("request does not satisfy the service schema",
			zap.String("field", ve.Field), zap.String("reason", ve.Message))
		details = append(details, model.FieldError{Field: ve.Field, Code: "REQUIRED", Message: ve.Message})
	}
	if a.policy == config.MandatoryFail {
		return model.NewValidationError(details)
	}
	return nil
}

// idempotencyKey reports whether the invocation is deduplicated and, if so,
// its store key, request hash and TTL.
func (a *Adapter) idempotencyKey(inv *model.Invocation, req model.Request) (key, hash string, ttl time.Duration, ok bool) {
	cfg := inv.Definition.Idempotency
	if a.idempotency == nil || cfg == nil {
		return "", "", 0, false
	}
	v, found := inv.Value(cfg.TokenParameter)
	token, isString := v.(string)
	if !found || !isString || token == "" {
		return "", "", 0, false
	}

	ttl = a.idempotencyTTL
	if cfg.TTL != "" {
		if d, err := time.ParseDuration(cfg.TTL); err == nil {
			ttl = d
		}
	}
	return IdempotencyKey(inv.Scope.Key(), inv.Operation, token), HashRequest(req), ttl, true
}

func (a *Adapter) notify(ctx context.Context, inv *model.Invocation, operation string, d time.Duration, replayed bool, err error) {
	if len(a.observers) == 0 {
		return
	}
	event := newEvent(inv, operation, d, replayed, err)
	for _, obs := range a.observers {
		obs.OnInvocation(ctx, event)
	}
}

// translateError maps a client failure to the uniform error shape. A
// cancelled context is CANCELLED, connection and name resolution failures
// are rewritten with the endpoint the client was configured for, and
// anything else passes through unchanged. Timeouts pass through and render
// as BACKEND_TIMEOUT.
func translateError(ctx context.Context, err error, endpoint model.EndpointInfo) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return model.NewCancelledError(err)
	}
	if model.IsTimeout(err) {
		return err
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return model.NewConnectivityError(endpoint, err)
	}
	return err
}

func wrapInvocation(inv *model.Invocation, err error) error {
	var ie *model.InvocationError
	if errors.As(err, &ie) {
		return err
	}
	return &model.InvocationError{Invocation: inv, Err: err}
}
