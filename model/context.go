package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Scope identifies the region and credential profile an invocation runs
// against. Clients are shared between invocations with equal scopes.
type Scope struct {
	Region   string
	Profile  string
	Endpoint string
}

// Validate checks that all mandatory fields are present.
// Region and Profile must be non-empty.
func (s Scope) Validate() error {
	var errs []error
	if s.Region == "" {
		errs = append(errs, fmt.Errorf("region is required"))
	}
	if s.Profile == "" {
		errs = append(errs, fmt.Errorf("profile is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Key returns the cache key used to share a client for this scope.
func (s Scope) Key() string {
	return strings.Join([]string{s.Region, s.Profile, s.Endpoint}, "|")
}

// Merge returns s with empty fields filled from fallback.
func (s Scope) Merge(fallback Scope) Scope {
	if s.Region == "" {
		s.Region = fallback.Region
	}
	if s.Profile == "" {
		s.Profile = fallback.Profile
	}
	if s.Endpoint == "" {
		s.Endpoint = fallback.Endpoint
	}
	return s
}

// EndpointInfo is the endpoint configuration a client was built with. It is
// used to enrich connectivity diagnostics.
type EndpointInfo struct {
	URL     string `json:"url"`
	Region  string `json:"region"`
	Profile string `json:"profile"`
}

type scopeKey struct{}

// WithScope attaches a Scope to the given context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom extracts the Scope from the context. The second value reports
// whether one was present.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
