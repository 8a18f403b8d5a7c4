package invoker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/seqctl/internal/definition"
	"github.com/pitabwire/seqctl/model"
)

// SDKHandler is an in-process implementation of one operation, registered at
// startup and reached by name through the operation binding.
type SDKHandler interface {
	// Name returns the unique handler name used in operation bindings.
	Name() string
	// Invoke executes the operation for the given request.
	Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error)
}

// HandlerFunc adapts a function to the SDKHandler interface.
type HandlerFunc func(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error)

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// NewHandler returns an SDKHandler named name that calls fn.
func NewHandler(name string, fn HandlerFunc) SDKHandler {
	return &namedHandler{name: name, fn: fn}
}

func (h *namedHandler) Name() string { return h.name }

func (h *namedHandler) Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
	return h.fn(ctx, op, req)
}

// SDKHandlerRegistry stores named SDK handlers. It is safe for concurrent use.
type SDKHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]SDKHandler
}

// NewSDKHandlerRegistry creates a new empty handler registry.
func NewSDKHandlerRegistry() *SDKHandlerRegistry {
	return &SDKHandlerRegistry{
		handlers: make(map[string]SDKHandler),
	}
}

// Register adds a handler under its Name(). Registering the same name twice
// is a wiring mistake and panics.
func (r *SDKHandlerRegistry) Register(handler SDKHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[handler.Name()]; exists {
		panic(fmt.Sprintf("invoker: SDK handler %q already registered", handler.Name()))
	}
	r.handlers[handler.Name()] = handler
}

// Get returns the handler registered under the given name.
func (r *SDKHandlerRegistry) Get(name string) (SDKHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names, sorted.
func (r *SDKHandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SDKTransport dispatches invocations to registered SDK handlers.
type SDKTransport struct {
	registry   *SDKHandlerRegistry
	anyBinding bool
}

// SDKOption configures an SDKTransport.
type SDKOption func(*SDKTransport)

// WithAnyBinding makes the transport accept every binding type. Operations
// without an sdk handler are dispatched to the handler named after the
// operation, which lets a sandbox stand in for remote services.
func WithAnyBinding() SDKOption {
	return func(t *SDKTransport) { t.anyBinding = true }
}

// NewSDKTransport creates a transport backed by the given handler registry.
func NewSDKTransport(registry *SDKHandlerRegistry, opts ...SDKOption) *SDKTransport {
	t := &SDKTransport{registry: registry}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Supports returns true for sdk bindings, or for any binding when the
// transport was created WithAnyBinding.
func (t *SDKTransport) Supports(binding model.OperationBinding) bool {
	return t.anyBinding || binding.Type == definition.BindingSDK
}

// Invoke looks up the handler and delegates the call.
func (t *SDKTransport) Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
	name := op.Name
	if op.Binding.Type == definition.BindingSDK && op.Binding.Handler != "" {
		name = op.Binding.Handler
	}

	handler, ok := t.registry.Get(name)
	if !ok {
		return nil, model.NewConfigurationError("no SDK handler registered for %q", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return handler.Invoke(ctx, op, req)
}
