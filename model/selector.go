package model

import "strings"

// SelectWhole is the selector expression for the whole response; a leading
// EchoPrefix marks an input echo.
const (
	SelectWhole = "*"
	EchoPrefix  = "^"
)

// SelectorKind enumerates the closed set of output selectors.
type SelectorKind int

const (
	// SelectWholeResponse returns the full Response.
	SelectWholeResponse SelectorKind = iota
	// SelectNamedField returns one (possibly nested) Response member.
	SelectNamedField
	// SelectInputEcho returns a bound input parameter instead of any
	// Response member.
	SelectInputEcho
)

func (k SelectorKind) String() string {
	switch k {
	case SelectWholeResponse:
		return "whole-response"
	case SelectNamedField:
		return "named-field"
	case SelectInputEcho:
		return "input-echo"
	default:
		return "unknown"
	}
}

// Selector determines what subset of the Response, or which input echo, is
// surfaced as the invocation output. Selectors are resolved at bind time and
// only ever name fields or parameters that the descriptor declares.
type Selector struct {
	Kind SelectorKind
	// Name is the dotted response path for SelectNamedField, or the
	// parameter name for SelectInputEcho.
	Name string
}

// WholeResponse returns a selector yielding the full Response.
func WholeResponse() Selector {
	return Selector{Kind: SelectWholeResponse}
}

// NamedField returns a selector yielding the response member at path.
func NamedField(path string) Selector {
	return Selector{Kind: SelectNamedField, Name: path}
}

// InputEcho returns a selector yielding the bound value of a parameter.
func InputEcho(param string) Selector {
	return Selector{Kind: SelectInputEcho, Name: param}
}

// Apply projects the response (or the invocation's inputs) to the output
// value. Missing members yield nil.
func (s Selector) Apply(resp Response, inv *Invocation) any {
	switch s.Kind {
	case SelectNamedField:
		return navigate(resp, s.Name)
	case SelectInputEcho:
		if inv == nil {
			return nil
		}
		v, _ := inv.Value(s.Name)
		return v
	default:
		return resp
	}
}

// String renders the selector in the expression syntax accepted by the
// command line.
func (s Selector) String() string {
	switch s.Kind {
	case SelectNamedField:
		return s.Name
	case SelectInputEcho:
		return "^" + s.Name
	default:
		return "*"
	}
}

// navigate walks a dot-separated path through nested maps.
func navigate(data map[string]any, path string) any {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]any:
			current = m[part]
		case Response:
			current = m[part]
		default:
			return nil
		}
	}
	return current
}

// CompileSelector resolves a selector expression against an operation
// descriptor. Named fields must start with a declared response field and
// echoes must name a declared parameter; the result carries the declared
// spelling. Anything else is a CONFIGURATION_ERROR.
func CompileSelector(expr string, op OperationDefinition) (Selector, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "" || expr == SelectWhole:
		return WholeResponse(), nil
	case strings.HasPrefix(expr, EchoPrefix):
		name := strings.TrimPrefix(expr, EchoPrefix)
		p, ok := op.Parameter(name)
		if !ok {
			return Selector{}, NewConfigurationError(
				"selector %q: operation %s has no parameter %q", expr, op.Name, name)
		}
		return InputEcho(p.Name), nil
	}

	head, rest, nested := strings.Cut(expr, ".")
	field, ok := op.ResponseField(head)
	if !ok {
		return Selector{}, NewConfigurationError(
			"selector %q: operation %s has no response field %q", expr, op.Name, head)
	}
	if nested {
		if rest == "" || strings.Contains(rest, "..") {
			return Selector{}, NewConfigurationError("selector %q: malformed path", expr)
		}
		field += "." + rest
	}
	return NamedField(field), nil
}
