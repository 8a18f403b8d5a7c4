package shell

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/observability"
)

// Exit codes returned by Run.
const (
	ExitOK = 0
	// ExitFailed means at least one invocation failed.
	ExitFailed = 1
	// ExitUsage means the command line, configuration or operation table was
	// rejected before anything was invoked.
	ExitUsage = 2
)

const defaultConfigPath = "seqctl.yaml"

// IO holds the streams a shell reads from and writes to.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// globalFlags are the flags every command accepts. They are parsed once
// before the command tree exists, because the tree depends on the
// configuration they select.
type globalFlags struct {
	configPath string
	region     string
	profile    string
	endpoint   string
	output     string
	sandbox    string
	logLevel   string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", defaultConfigPath, "path to the configuration file")
	fs.StringVar(&g.region, "region", "", "region to invoke in")
	fs.StringVar(&g.profile, "profile", "", "credential profile to sign requests with")
	fs.StringVar(&g.endpoint, "endpoint", "", "service endpoint URL, overriding the regional one")
	fs.StringVarP(&g.output, "output", "o", "", "output format: json or yaml")
	fs.StringVar(&g.sandbox, "sandbox", "", "answer every operation from this fixture file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// apply lays the flags over cfg, which was loaded from file and environment.
func (g *globalFlags) apply(cfg *config.Config) error {
	if g.region != "" {
		cfg.Defaults.Region = g.region
	}
	if g.profile != "" {
		cfg.Defaults.Profile = g.profile
	}
	if g.endpoint != "" {
		cfg.Defaults.Endpoint = g.endpoint
	}
	if g.output != "" {
		cfg.Shell.Output = g.output
	}
	if g.logLevel != "" {
		cfg.Observability.LogLevel = g.logLevel
	}
	return cfg.Validate()
}

func parseGlobalFlags(args []string) (*globalFlags, *pflag.FlagSet, error) {
	g := &globalFlags{}
	fs := pflag.NewFlagSet("seqctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.ParseErrorsWhitelist.UnknownFlags = true
	g.register(fs)
	// Help is cobra's to print.
	fs.BoolP("help", "h", false, "")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return g, fs, nil
}

// Run executes the seqctl command line args and returns the process exit
// code. Results are written to streams.Out and diagnostics to streams.Err.
func Run(ctx context.Context, args []string, streams IO) int {
	g, fs, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(streams.Err, "Error: %v\n", err)
		return ExitUsage
	}

	cfg, err := config.Load(g.configPath, !fs.Changed("config"))
	if err != nil {
		fmt.Fprintf(streams.Err, "Error: %v\n", err)
		return ExitUsage
	}
	if err := g.apply(cfg); err != nil {
		fmt.Fprintf(streams.Err, "Error: config: %v\n", err)
		return ExitUsage
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(streams.Err, "Error: logger: %v\n", err)
		return ExitUsage
	}
	defer logger.Sync()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "seqctl", observability.Version)
	if err != nil {
		fmt.Fprintf(streams.Err, "Error: %v\n", err)
		return ExitUsage
	}
	defer shutdownTracing(context.Background())

	app, err := NewApp(ctx, cfg, logger, Options{Sandbox: g.sandbox})
	if err != nil {
		fmt.Fprintf(streams.Err, "Error: %v\n", err)
		return ExitUsage
	}
	defer app.Close()

	root := newRootCommand(app, g, streams)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), streams.Err)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errFailed):
		return ExitFailed
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsage
	}
}
