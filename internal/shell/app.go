// Package shell is the seqctl hosting shell: it wires configuration, the
// operation table and the command adapter together and exposes them as a
// cobra command tree and an optional HTTP host.
package shell

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/definitions"
	"github.com/pitabwire/seqctl/internal/command"
	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/credentials"
	"github.com/pitabwire/seqctl/internal/definition"
	"github.com/pitabwire/seqctl/internal/invoker"
	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/internal/sandbox"
	"github.com/pitabwire/seqctl/internal/transport"
	"github.com/pitabwire/seqctl/model"
)

// Options configures NewApp.
type Options struct {
	// Sandbox names a fixture file. When set, every operation is answered
	// from it and nothing reaches the network.
	Sandbox string
	// Handlers holds extra in-process SDK handlers. May be nil.
	Handlers *invoker.SDKHandlerRegistry
	// Registerer receives the metrics; a private registry is used when nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// App holds the wired components of one seqctl process.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *definition.Registry
	Index       *openapi.Index
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Clients     *invoker.ClientFactory
	Adapter     *command.Adapter
	Idempotency command.IdempotencyStore

	specServices []string
	closers      []func() error
}

// NewApp loads the operation table and OpenAPI documents named by cfg and
// builds the adapter over them. The caller must Close the returned App.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	reg, gatherer := opts.Registerer, opts.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	}
	app.Metrics = observability.InitMetrics(reg)
	app.Gatherer = gatherer

	if err := app.loadIndex(); err != nil {
		return nil, err
	}
	if err := app.loadDefinitions(); err != nil {
		return nil, err
	}

	store, err := app.buildIdempotencyStore(ctx)
	if err != nil {
		return nil, err
	}
	app.Idempotency = store

	handlers := opts.Handlers
	if handlers == nil {
		handlers = invoker.NewSDKHandlerRegistry()
	}
	if opts.Sandbox != "" {
		fixtures, err := sandbox.Load(opts.Sandbox)
		if err != nil {
			app.Close()
			return nil, model.NewConfigurationError("%v", err)
		}
		fixtures.Register(handlers)
		logger.Info("sandbox enabled",
			zap.String("fixtures", opts.Sandbox),
			zap.Strings("operations", fixtures.Names()),
		)
	}

	var index *openapi.Index
	if len(app.specServices) > 0 {
		index = app.Index
	}

	build := invoker.NewClientBuilder(invoker.BuildOptions{
		Config:        cfg,
		Index:         index,
		Handlers:      handlers,
		Sandbox:       opts.Sandbox != "",
		SandboxSource: opts.Sandbox,
		Logger:        logger,
		Metrics:       app.Metrics,
	})
	app.Clients = invoker.NewClientFactory(build, invoker.WithBuildObserver(func(scope model.Scope, err error) {
		app.Metrics.RecordClientCreated(scope.Region, scope.Profile, err)
	}))

	adapterOpts := []command.Option{
		command.WithLogger(logger),
		command.WithMandatoryPolicy(cfg.Shell.MandatoryPolicy),
		command.WithDefaultScope(model.Scope{
			Region:   cfg.Defaults.Region,
			Profile:  cfg.Defaults.Profile,
			Endpoint: cfg.Defaults.Endpoint,
		}),
		command.WithObserver(command.NewMetricsObserver(app.Metrics)),
		command.WithObserver(command.NewAuditObserver(logger)),
	}
	if index != nil {
		adapterOpts = append(adapterOpts, command.WithSchemaIndex(index))
	}
	if store != nil {
		adapterOpts = append(adapterOpts, command.WithIdempotencyStore(store, cfg.Idempotency.DefaultTTL))
	}
	app.Adapter = command.NewAdapter(app.Registry, app.Clients, adapterOpts...)

	return app, nil
}

func (a *App) loadIndex() error {
	a.Index = openapi.NewIndex()

	specs := a.Config.Specs
	sources := make([]openapi.SpecSource, 0, len(specs.Sources))
	for _, s := range specs.Sources {
		path := s.SpecFile
		if specs.Directory != "" && !filepath.IsAbs(path) {
			path = filepath.Join(specs.Directory, path)
		}
		sources = append(sources, openapi.SpecSource{ServiceID: s.ServiceID, SpecPath: path})
		a.specServices = append(a.specServices, s.ServiceID)
	}
	if err := a.Index.Load(sources); err != nil {
		return model.NewConfigurationError("%v", err)
	}
	for _, id := range a.specServices {
		a.Metrics.SetOpenAPIOperationsIndexed(id, float64(len(a.Index.AllOperationIDs(id))))
	}
	return nil
}

func (a *App) loadDefinitions() error {
	loader := definition.NewLoader()

	var defs []model.ServiceDefinition
	if a.Config.Definitions.Builtin {
		builtin, err := loader.LoadFS(definitions.FS)
		if err != nil {
			return model.NewConfigurationError("builtin operation table: %v", err)
		}
		defs = append(defs, builtin...)
	}
	if dirs := a.Config.Definitions.Directories; len(dirs) > 0 {
		extra, err := loader.LoadAll(dirs)
		if err != nil {
			return model.NewConfigurationError("%v", err)
		}
		defs = append(defs, extra...)
	}

	var index *openapi.Index
	if len(a.specServices) > 0 {
		index = a.Index
	}
	if verrs := definition.NewValidator().Validate(defs, index); len(verrs) > 0 {
		var merr *multierror.Error
		for _, ve := range verrs {
			a.Logger.Error("definition validation error", zap.String("error", ve.Error()))
			merr = multierror.Append(merr, ve)
		}
		return model.NewConfigurationError("operation table is invalid: %v", merr)
	}

	a.Registry = definition.NewRegistry(defs)
	ops := a.Registry.AllOperations()
	a.Metrics.SetOperationsLoaded(float64(len(ops)))
	a.Logger.Info("operation table loaded",
		zap.Int("operations", len(ops)),
		zap.String("checksum", a.Registry.Checksum()),
	)
	return nil
}

func (a *App) buildIdempotencyStore(ctx context.Context) (command.IdempotencyStore, error) {
	cfg := a.Config.Idempotency
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, model.NewConfigurationError("idempotency store: %s is not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, model.NewConfigurationError("idempotency store: redis at %s: %v", addr, err)
		}

		store := command.NewRedisIdempotencyStore(client)
		a.closers = append(a.closers, store.Close)
		a.Logger.Info("using redis idempotency store", zap.String("addr", addr))
		return store, nil
	default:
		a.Logger.Info("using in-memory idempotency store")
		return command.NewMemoryIdempotencyStore(), nil
	}
}

// Readiness returns the checks served on /readyz.
func (a *App) Readiness() observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		OperationsLoaded: func() bool { return len(a.Registry.AllOperations()) > 0 },
	}
	if len(a.specServices) > 0 {
		checks.OpenAPILoaded = func() bool {
			for _, id := range a.specServices {
				if len(a.Index.AllOperationIDs(id)) == 0 {
					return false
				}
			}
			return true
		}
	}
	if hc, ok := a.Idempotency.(observability.HealthChecker); ok {
		checks.IdempotencyStore = hc
	}
	return checks
}

// Router returns the HTTP host for this App. When server.auth_profile is set
// the /v1 routes require a bearer token signed with that profile's secret.
func (a *App) Router() (http.Handler, error) {
	deps := transport.Dependencies{
		Config:     a.Config,
		Logger:     a.Logger,
		Operations: a.Registry,
		Invoker:    a.Adapter,
		Metrics:    a.Metrics,
		Gatherer:   a.Gatherer,
		Readiness:  a.Readiness(),
	}
	if name := a.Config.Server.AuthProfile; name != "" {
		profile := a.Config.Profiles[name]
		secret, err := credentials.Secret(name, profile)
		if err != nil {
			return nil, model.NewConfigurationError("server.auth_profile: %v", err)
		}
		deps.Authenticate = transport.BearerAuthenticator(secret, profile)
	}
	return transport.NewRouter(deps), nil
}

// Close releases the idempotency store connection, if any.
func (a *App) Close() error {
	var merr *multierror.Error
	for _, c := range a.closers {
		if err := c(); err != nil && !errors.Is(err, redis.ErrClosed) {
			merr = multierror.Append(merr, err)
		}
	}
	a.closers = nil
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("shell: closing: %w", err)
	}
	return nil
}
