package model

import (
	"strings"
	"time"
)

// Request is the transport request populated field by field from an
// Invocation. Inputs that were not supplied are absent keys, never zero
// values.
type Request map[string]any

// Response is the decoded service reply. The adapter never mutates it.
type Response map[string]any

// Invocation is the per-invocation record of bound parameter values. It is
// created fresh for every invocation and never shared.
type Invocation struct {
	ID        string
	Operation string
	Scope     Scope
	Bound     map[string]any
	Selector  Selector
	Warnings  []string
	// Missing lists mandatory parameters that were not supplied.
	Missing   []string
	CreatedAt time.Time

	// Definition is the descriptor the invocation was created for.
	Definition OperationDefinition
}

// Value returns the bound value of a parameter, matching the name
// case-insensitively.
func (inv *Invocation) Value(name string) (any, bool) {
	if v, ok := inv.Bound[name]; ok {
		return v, true
	}
	for k, v := range inv.Bound {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Warn records a non-fatal diagnostic on the invocation.
func (inv *Invocation) Warn(msg string) {
	inv.Warnings = append(inv.Warnings, msg)
}

// InvocationInput is the serialized form of an invocation request used by
// batch files and the HTTP host.
type InvocationInput struct {
	Operation string         `json:"operation"          yaml:"operation"`
	Inputs    map[string]any `json:"inputs,omitempty"   yaml:"inputs,omitempty"`
	Select    string         `json:"select,omitempty"   yaml:"select,omitempty"`
	PassThru  bool           `json:"pass_thru,omitempty" yaml:"pass_thru,omitempty"`
	Region    string         `json:"region,omitempty"   yaml:"region,omitempty"`
	Profile   string         `json:"profile,omitempty"  yaml:"profile,omitempty"`
	Confirm   bool           `json:"confirm,omitempty"  yaml:"confirm,omitempty"`
}
