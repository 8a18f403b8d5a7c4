package model

import "context"

// Transport executes requests for one kind of operation binding.
type Transport interface {
	// Invoke calls the remote operation described by op. The descriptor is
	// passed whole so transports can place fields by parameter location.
	Invoke(ctx context.Context, op OperationDefinition, req Request) (Response, error)

	// Supports returns true if this transport can handle the given binding type.
	Supports(binding OperationBinding) bool
}

// Client is the transport client bound to one Scope. It is created once per
// scope and shared read-mostly by concurrent invocations.
type Client interface {
	Invoke(ctx context.Context, op OperationDefinition, req Request) (Response, error)

	// Endpoint reports the endpoint configuration the client uses for the
	// given service.
	Endpoint(serviceID string) EndpointInfo
}
