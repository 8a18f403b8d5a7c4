package invoker

import (
	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/credentials"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/model"
)

// SandboxScheme prefixes the endpoint URL reported by sandbox clients.
const SandboxScheme = "sandbox://"

// BuildOptions configures the clients built by NewClientBuilder.
type BuildOptions struct {
	Config *config.Config
	Index  *openapi.Index
	// Handlers holds in-process SDK handlers. May be nil.
	Handlers *SDKHandlerRegistry
	// Sandbox routes every operation to Handlers instead of the network.
	Sandbox bool
	// SandboxSource names the fixture file reported as the endpoint.
	SandboxSource string
	Logger        *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewClientBuilder returns a ClientBuilder that assembles the transports for
// a scope: signed REST plus SDK handlers, or only the SDK handlers in sandbox
// mode.
func NewClientBuilder(opts BuildOptions) ClientBuilder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(scope model.Scope) (model.Client, error) {
		if err := scope.Validate(); err != nil {
			return nil, model.NewConfigurationError("invalid scope: %v", err)
		}
		cfg := opts.Config

		if opts.Sandbox {
			endpoints := make(map[string]string, len(cfg.Services))
			for id := range cfg.Services {
				endpoints[id] = SandboxScheme + opts.SandboxSource
			}
			client := NewRegistry(scope, endpoints)
			client.Register(NewSDKTransport(opts.Handlers, WithAnyBinding()))
			return client, nil
		}

		endpoints := make(map[string]string, len(cfg.Services))
		for id := range cfg.Services {
			url, err := cfg.ServiceBaseURL(id, scope.Region, scope.Endpoint)
			if err != nil {
				return nil, model.NewConfigurationError("%v", err)
			}
			endpoints[id] = url
		}

		profile, ok := cfg.Profiles[scope.Profile]
		if !ok {
			return nil, model.NewConfigurationError("credential profile %q is not configured", scope.Profile)
		}
		signer, err := credentials.NewSigner(scope.Profile, scope.Region, profile)
		if err != nil {
			return nil, model.NewConfigurationError("%v", err)
		}

		rest := RESTOptions{
			BaseURLs: endpoints,
			Services: cfg.Services,
			Index:    opts.Index,
			Tokens:   signer,
			Logger:   logger,
			OnBreakerChange: func(name string, from, to BreakerState) {
				logger.Warn("circuit breaker state changed",
					zap.String("service", name),
					zap.String("region", scope.Region),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
				if opts.Metrics != nil {
					opts.Metrics.SetCircuitBreakerState(name, float64(to))
				}
			},
		}
		if opts.Metrics != nil {
			rest.OnResponse = opts.Metrics.RecordTransportRequest
		}

		client := NewRegistry(scope, endpoints)
		client.Register(NewRESTTransport(rest))
		if opts.Handlers != nil {
			client.Register(NewSDKTransport(opts.Handlers))
		}

		logger.Info("client created",
			zap.String("region", scope.Region),
			zap.String("profile", scope.Profile),
			zap.String("endpoint", scope.Endpoint),
		)
		return client, nil
	}
}
