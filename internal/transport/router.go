package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/internal/command"
	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/model"
)

// Catalog lists the loaded operation table.
type Catalog interface {
	GetOperation(name string) (model.OperationDefinition, bool)
	AllOperations() []model.OperationDefinition
}

// Invoker runs serialized invocations.
type Invoker interface {
	Run(ctx context.Context, in model.InvocationInput, gate command.Gate) command.Result
	RunBatch(ctx context.Context, items []model.InvocationInput, opts command.BatchOptions) ([]command.Result, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Operations Catalog
	Invoker    Invoker

	// Metrics and Gatherer are optional.
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	Readiness observability.ReadinessChecks
	// Authenticate guards the /v1 routes. Nil leaves them open.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations. Health, readiness, and metrics endpoints bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil && deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &handlers{
		operations: deps.Operations,
		invoker:    deps.Invoker,
		metrics:    deps.Metrics,
		parallel:   deps.Config.Shell.BatchParallel,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/operations", h.listOperations)
		r.Get("/operations/{operation}", h.describeOperation)
		r.Post("/operations/{operation}/invoke", h.invoke)
		r.Post("/batch", h.batch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, model.NewNotFoundError("no route for "+r.URL.Path))
	})

	return r
}
