package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/seqctl/model"
)

// snapshot is an immutable collection of all operations indexed by
// lower-cased name.
type snapshot struct {
	services   map[string]model.ServiceDefinition
	operations map[string]model.OperationDefinition
	names      []string
	checksum   string
}

// Registry is a read-optimized, thread-safe store of the operation table.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.ServiceDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions. When two services declare the same operation
// name the later one wins; the validator reports such tables as invalid.
func (r *Registry) Replace(defs []model.ServiceDefinition) {
	s := &snapshot{
		services:   make(map[string]model.ServiceDefinition, len(defs)),
		operations: make(map[string]model.OperationDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		s.services[def.Service] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, op := range def.Operations {
			key := strings.ToLower(op.Name)
			if _, dup := s.operations[key]; !dup {
				s.names = append(s.names, op.Name)
			}
			s.operations[key] = op
		}
	}

	sort.Slice(s.names, func(i, j int) bool {
		return strings.ToLower(s.names[i]) < strings.ToLower(s.names[j])
	})

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetOperation returns the operation with the given name. Names are matched
// case-insensitively.
func (r *Registry) GetOperation(name string) (model.OperationDefinition, bool) {
	op, ok := r.current().operations[strings.ToLower(name)]
	return op, ok
}

// GetService returns the service definition with the given name.
func (r *Registry) GetService(service string) (model.ServiceDefinition, bool) {
	d, ok := r.current().services[service]
	return d, ok
}

// AllOperations returns every operation sorted by name.
func (r *Registry) AllOperations() []model.OperationDefinition {
	s := r.current()
	ops := make([]model.OperationDefinition, 0, len(s.names))
	for _, name := range s.names {
		ops = append(ops, s.operations[strings.ToLower(name)])
	}
	return ops
}

// AllServices returns all service definitions sorted by service name.
func (r *Registry) AllServices() []model.ServiceDefinition {
	s := r.current()
	defs := make([]model.ServiceDefinition, 0, len(s.services))
	for _, d := range s.services {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Service < defs[j].Service })
	return defs
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
