package invoker

import (
	"sync"

	"github.com/pitabwire/seqctl/model"
)

// ClientBuilder creates the client for one scope.
type ClientBuilder func(scope model.Scope) (model.Client, error)

// ClientFactory lazily creates one client per scope and shares it between
// invocations. Concurrent requests for the same scope build the client
// exactly once; a failed build is forgotten so a later call can retry it.
type ClientFactory struct {
	build   ClientBuilder
	onBuild func(scope model.Scope, err error)

	mu      sync.Mutex
	entries map[string]*clientEntry
}

type clientEntry struct {
	once   sync.Once
	client model.Client
	err    error
}

// FactoryOption configures a ClientFactory.
type FactoryOption func(*ClientFactory)

// WithBuildObserver registers fn to be called after every build attempt.
func WithBuildObserver(fn func(scope model.Scope, err error)) FactoryOption {
	return func(f *ClientFactory) { f.onBuild = fn }
}

// NewClientFactory creates a factory that builds clients with build.
func NewClientFactory(build ClientBuilder, opts ...FactoryOption) *ClientFactory {
	f := &ClientFactory{
		build:   build,
		entries: make(map[string]*clientEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the shared client for scope, building it on first use.
func (f *ClientFactory) Get(scope model.Scope) (model.Client, error) {
	key := scope.Key()

	f.mu.Lock()
	e, ok := f.entries[key]
	if !ok {
		e = &clientEntry{}
		f.entries[key] = e
	}
	f.mu.Unlock()

	e.once.Do(func() {
		e.client, e.err = f.build(scope)
		if f.onBuild != nil {
			f.onBuild(scope, e.err)
		}
	})

	if e.err != nil {
		f.mu.Lock()
		if f.entries[key] == e {
			delete(f.entries, key)
		}
		f.mu.Unlock()
		return nil, e.err
	}
	return e.client, nil
}

// Len returns the number of cached clients.
func (f *ClientFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
