// Package invoker implements the transport clients that carry requests to
// remote services: a REST transport over resty, an in-process SDK transport,
// and the per-scope client factory that shares them between invocations.
package invoker

import (
	"context"

	"github.com/pitabwire/seqctl/model"
)

// Registry is the client for one Scope. It holds the transports built for
// that scope and dispatches each operation to the first one that supports
// its binding.
type Registry struct {
	scope      model.Scope
	endpoints  map[string]string
	transports []model.Transport
}

// NewRegistry creates a client for scope. endpoints maps service IDs to the
// base URLs the transports use.
func NewRegistry(scope model.Scope, endpoints map[string]string) *Registry {
	return &Registry{scope: scope, endpoints: endpoints}
}

// Register adds a transport. Transports are consulted in registration order.
func (r *Registry) Register(t model.Transport) {
	r.transports = append(r.transports, t)
}

// Invoke delegates to the first transport that supports op's binding.
func (r *Registry) Invoke(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
	for _, t := range r.transports {
		if t.Supports(op.Binding) {
			return t.Invoke(ctx, op, req)
		}
	}
	return nil, model.NewConfigurationError("no transport supports binding type %q of %s", op.Binding.Type, op.Name)
}

// Endpoint reports the endpoint serving serviceID. Unknown services report
// the scope's endpoint override, which may be empty.
func (r *Registry) Endpoint(serviceID string) model.EndpointInfo {
	url, ok := r.endpoints[serviceID]
	if !ok {
		url = r.scope.Endpoint
	}
	return model.EndpointInfo{
		URL:     url,
		Region:  r.scope.Region,
		Profile: r.scope.Profile,
	}
}
