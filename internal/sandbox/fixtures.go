// Package sandbox replays canned responses from a fixture file so the
// command line can run without network access or credentials.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/seqctl/internal/invoker"
	"github.com/pitabwire/seqctl/model"
)

// File is the root of a fixture file: canned replies per operation name.
type File struct {
	Operations map[string][]Fixture `yaml:"operations"`
}

// Fixture is one canned reply. The first fixture of an operation whose
// Match is contained in the request wins; a fixture without Match accepts
// every request.
type Fixture struct {
	Match    map[string]any `yaml:"match"`
	Response map[string]any `yaml:"response"`
	Error    *FixtureError  `yaml:"error"`
	// Delay holds the reply back, observing cancellation.
	Delay time.Duration `yaml:"delay"`
	// Unreachable fails the call the way a refused connection would.
	Unreachable bool `yaml:"unreachable"`
}

// FixtureError is a canned service error.
type FixtureError struct {
	Status    int    `yaml:"status"`
	Code      string `yaml:"code"`
	Message   string `yaml:"message"`
	RequestID string `yaml:"request_id"`
}

// Load reads a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes fixture YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	for op, fixtures := range f.Operations {
		for i, fx := range fixtures {
			if fx.Error != nil && fx.Unreachable {
				return nil, fmt.Errorf("operations.%s[%d]: error and unreachable are exclusive", op, i)
			}
			if fx.Error != nil && fx.Error.Status < 300 {
				return nil, fmt.Errorf("operations.%s[%d]: error status %d is not a failure", op, i, fx.Error.Status)
			}
		}
	}
	return &f, nil
}

// Names returns the operations with fixtures, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Operations))
	for name := range f.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds one handler per operation to reg. Handlers are named after
// the operation, which is how a sandbox transport dispatches.
func (f *File) Register(reg *invoker.SDKHandlerRegistry) {
	for _, name := range f.Names() {
		reg.Register(invoker.NewHandler(name, f.handler(name)))
	}
}

func (f *File) handler(name string) invoker.HandlerFunc {
	fixtures := f.Operations[name]
	return func(ctx context.Context, op model.OperationDefinition, req model.Request) (model.Response, error) {
		normalized, err := normalize(map[string]any(req))
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}

		for _, fx := range fixtures {
			if !contains(normalized, fx.Match) {
				continue
			}
			if fx.Delay > 0 {
				timer := time.NewTimer(fx.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
			return fx.reply()
		}
		return nil, &model.ServiceError{
			StatusCode: 404,
			Code:       "ResourceNotFoundException",
			Message:    fmt.Sprintf("no sandbox fixture of %s matches the request", op.Name),
		}
	}
}

func (fx Fixture) reply() (model.Response, error) {
	switch {
	case fx.Unreachable:
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("sandbox endpoint unreachable")}
	case fx.Error != nil:
		return nil, &model.ServiceError{
			StatusCode: fx.Error.Status,
			Code:       fx.Error.Code,
			Message:    fx.Error.Message,
			RequestID:  fx.Error.RequestID,
		}
	}
	// Each reply is a fresh copy.
	resp, err := normalize(fx.Response)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return model.Response(resp), nil
}

// normalize round-trips v through JSON so requests and fixtures compare
// with the same types the REST transport would see.
func normalize(v map[string]any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// contains reports whether every member of match is present in req with an
// equal value. Nested maps match by subset too.
func contains(req map[string]any, match map[string]any) bool {
	for k, want := range match {
		got, ok := req[k]
		if !ok {
			return false
		}
		if wantMap, isMap := want.(map[string]any); isMap {
			gotMap, ok := got.(map[string]any)
			if !ok || !contains(gotMap, wantMap) {
				return false
			}
			continue
		}
		if !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	// Fixture YAML decodes numbers as int; JSON as float64.
	switch w := want.(type) {
	case int:
		g, ok := got.(float64)
		return ok && g == float64(w)
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !sameValue(g[i], w[i]) {
				return false
			}
		}
		return true
	}
	return false
}
