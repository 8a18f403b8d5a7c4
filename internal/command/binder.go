package command

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/seqctl/model"
)

// BindOptions carries the caller's output overrides for one invocation.
type BindOptions struct {
	// Select is an explicit selector expression; empty means the
	// operation's default selector.
	Select string
	// PassThru echoes the operation's primary parameter instead of any
	// response member. Deprecated: use Select "^Param".
	PassThru bool
}

// resolveSelector picks the output selector for an invocation. An explicit
// expression wins over the descriptor's default.
func resolveSelector(op model.OperationDefinition, opts BindOptions) (model.Selector, error) {
	if opts.PassThru && strings.TrimSpace(opts.Select) != "" {
		return model.Selector{}, model.NewConfigurationError(
			"%s: pass-thru and select cannot be combined", op.Name)
	}
	if opts.PassThru {
		p, ok := op.PrimaryParameter()
		if !ok {
			return model.Selector{}, model.NewConfigurationError(
				"%s: pass-thru requires at least one parameter", op.Name)
		}
		return model.InputEcho(p.Name), nil
	}
	if strings.TrimSpace(opts.Select) != "" {
		return model.CompileSelector(opts.Select, op)
	}
	return model.CompileSelector(op.DefaultSelector, op)
}

// bindInputs coerces caller inputs to the declared parameter types. Values
// are keyed by the declared parameter name; nil values count as not
// supplied. Two inputs that name the same parameter in different case are a
// configuration error. Mandatory parameters that are absent or empty are
// returned in declaration order.
func bindInputs(op model.OperationDefinition, inputs map[string]any) (map[string]any, []string, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	bound := make(map[string]any, len(inputs))
	seen := make(map[string]string, len(inputs))
	var details []model.FieldError

	for _, name := range names {
		p, ok := op.Parameter(name)
		if !ok {
			return nil, nil, model.NewConfigurationError("%s has no parameter %q", op.Name, name)
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, nil, model.NewConfigurationError(
				"%s: inputs %q and %q both name parameter %s", op.Name, prev, name, p.Name)
		}
		seen[p.Name] = name
		raw := inputs[name]
		if raw == nil {
			continue
		}
		v, err := coerce(p, raw)
		if err != nil {
			details = append(details, model.FieldError{
				Field:   p.Name,
				Code:    "INVALID_TYPE",
				Message: err.Error(),
			})
			continue
		}
		bound[p.Name] = v
	}
	if len(details) > 0 {
		return nil, nil, model.NewValidationError(details)
	}

	var missing []string
	for _, p := range op.Parameters {
		if !p.Mandatory {
			continue
		}
		if v, ok := bound[p.Name]; !ok || isEmpty(v) {
			missing = append(missing, p.Name)
		}
	}
	return bound, missing, nil
}

func coerce(p model.ParameterDefinition, v any) (any, error) {
	switch p.ParamType() {
	case model.ParamStringList:
		return toStringList(v)
	case model.ParamInt:
		return toInt(v)
	case model.ParamBool:
		return toBool(v)
	case model.ParamMap:
		return toMap(v)
	default:
		return toString(v)
	}
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case int, int32, int64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

// toStringList always returns a new slice, so later changes to the caller's
// list never reach the request.
func toStringList(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for i, item := range x {
			s, err := toString(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", x)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toMap(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x), nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a map, got %T", v)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// BuildRequest populates a Request from bound values in declaration order.
// Only supplied parameters are written, and a nested group such as
// "filter" is created when its first member is set, so a group with no
// members set never appears. Values are copied.
func BuildRequest(op model.OperationDefinition, bound map[string]any) model.Request {
	req := model.Request{}
	for _, p := range op.Parameters {
		v, ok := bound[p.Name]
		if !ok {
			continue
		}
		setPath(req, p.FieldPath(), copyValue(v))
	}
	return req
}

func setPath(req model.Request, path []string, v any) {
	current := map[string]any(req)
	for _, seg := range path[:len(path)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[path[len(path)-1]] = v
}

func copyValue(v any) any {
	switch x := v.(type) {
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	case map[string]any:
		return copyMap(x)
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}
