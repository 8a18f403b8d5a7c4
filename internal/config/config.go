// Package config loads and validates application configuration from YAML files,
// .env files, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mandatory-parameter policies.
const (
	MandatoryWarn = "warn"
	MandatoryFail = "fail"
)

// Config is the root application configuration.
type Config struct {
	Defaults      ScopeConfig                 `yaml:"defaults"`
	Definitions   DefinitionsConfig           `yaml:"definitions"`
	Specs         SpecsConfig                 `yaml:"specs"`
	Services      map[string]ServiceConfig    `yaml:"services"`
	Profiles      map[string]CredentialConfig `yaml:"profiles"`
	Shell         ShellConfig                 `yaml:"shell"`
	Idempotency   IdempotencyConfig           `yaml:"idempotency"`
	Server        ServerConfig                `yaml:"server"`
	Observability ObservabilityConfig         `yaml:"observability"`
}

// ScopeConfig is the default region/profile/endpoint used when an invocation
// does not name its own.
type ScopeConfig struct {
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
}

// DefinitionsConfig describes where to find operation table YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	// Builtin enables the operation table compiled into the binary.
	Builtin bool `yaml:"builtin"`
}

// SpecsConfig describes where to find OpenAPI specification files.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// ServiceConfig describes a remote service endpoint.
type ServiceConfig struct {
	// BaseURL may contain a {region} placeholder.
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// CredentialConfig describes how requests made under a profile are signed.
type CredentialConfig struct {
	KeyID     string        `yaml:"key_id"`
	SecretEnv string        `yaml:"secret_env"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ShellConfig describes hosting shell behaviour.
type ShellConfig struct {
	MandatoryPolicy string `yaml:"mandatory_policy"`
	Output          string `yaml:"output"`
	BatchParallel   int    `yaml:"batch_parallel"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig describes the headless HTTP host.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AuthProfile, when set, requires callers to present a bearer token
	// signed with that profile's secret.
	AuthProfile string `yaml:"auth_profile"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Defaults: ScopeConfig{
			Region:  "eu-west-1",
			Profile: "default",
		},
		Definitions: DefinitionsConfig{
			Builtin: true,
		},
		Services: map[string]ServiceConfig{
			"omics": {
				BaseURL: "https://omics.{region}.example.com",
				Timeout: 30 * time.Second,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					SuccessThreshold: 2,
					Timeout:          30 * time.Second,
				},
			},
		},
		Profiles: map[string]CredentialConfig{
			"default": {
				SecretEnv: "SEQCTL_SECRET",
				Issuer:    "seqctl",
				Audience:  "omics",
				TokenTTL:  15 * time.Minute,
			},
		},
		Shell: ShellConfig{
			MandatoryPolicy: MandatoryWarn,
			Output:          "json",
			BatchParallel:   1,
		},
		Idempotency: IdempotencyConfig{
			Driver:     "memory",
			AddrEnv:    "SEQCTL_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  55 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "warn",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies .env and environment variable
// overrides, and validates the result. A missing file is not an error when
// optional is true; the defaults are used instead.
func Load(path string, optional bool) (*Config, error) {
	cfg := Defaults()

	// A .env file next to the working directory is honoured but optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Defaults.Region == "" {
		errs = append(errs, "defaults.region is required")
	}
	if c.Defaults.Profile == "" {
		errs = append(errs, "defaults.profile is required")
	}
	if !c.Definitions.Builtin && len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions: builtin is disabled and no directories are configured")
	}
	switch c.Shell.MandatoryPolicy {
	case MandatoryWarn, MandatoryFail:
	default:
		errs = append(errs, fmt.Sprintf("shell.mandatory_policy must be %q or %q", MandatoryWarn, MandatoryFail))
	}
	switch c.Shell.Output {
	case "json", "yaml":
	default:
		errs = append(errs, "shell.output must be json or yaml")
	}
	if c.Shell.BatchParallel < 1 {
		errs = append(errs, "shell.batch_parallel must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if p := c.Server.AuthProfile; p != "" {
		if _, ok := c.Profiles[p]; !ok {
			errs = append(errs, fmt.Sprintf("server.auth_profile %q is not a configured profile", p))
		}
	}
	for id, svc := range c.Services {
		if svc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("services.%s.base_url is required", id))
		}
	}
	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not supported", c.Idempotency.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ServiceBaseURL returns the base URL for a service in the given region, or
// the endpoint override when one is set.
func (c *Config) ServiceBaseURL(serviceID, region, endpoint string) (string, error) {
	if endpoint != "" {
		return strings.TrimSuffix(endpoint, "/"), nil
	}
	svc, ok := c.Services[serviceID]
	if !ok {
		return "", fmt.Errorf("config: service %q not configured", serviceID)
	}
	return strings.ReplaceAll(strings.TrimSuffix(svc.BaseURL, "/"), "{region}", region), nil
}

// applyEnvOverrides reads SEQCTL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEQCTL_REGION"); v != "" {
		cfg.Defaults.Region = v
	}
	if v := os.Getenv("SEQCTL_PROFILE"); v != "" {
		cfg.Defaults.Profile = v
	}
	if v := os.Getenv("SEQCTL_ENDPOINT"); v != "" {
		cfg.Defaults.Endpoint = v
	}
	if v := os.Getenv("SEQCTL_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("SEQCTL_MANDATORY_POLICY"); v != "" {
		cfg.Shell.MandatoryPolicy = v
	}
	if v := os.Getenv("SEQCTL_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
}
