package definition

import (
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/seqctl/internal/openapi"
	"github.com/pitabwire/seqctl/model"
)

// Binding types understood by the transports.
const (
	BindingREST = "rest"
	BindingSDK  = "sdk"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates operation tables structurally and, when an index is
// available, against OpenAPI specs.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(defs []model.ServiceDefinition, index *openapi.Index) []VError {
	var errs []VError
	seen := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateService(prefix, def, index)...)

		for j, op := range def.Operations {
			key := strings.ToLower(op.Name)
			if key == "" {
				continue
			}
			if other, dup := seen[key]; dup {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.operations[%d].name", prefix, j),
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("operation %q already declared by service %q", op.Name, other),
				})
				continue
			}
			seen[key] = def.Service
		}
	}
	return errs
}

func (v *Validator) validateService(prefix string, def model.ServiceDefinition, index *openapi.Index) []VError {
	var errs []VError

	if def.Service == "" {
		errs = append(errs, VError{Path: prefix + ".service", Code: "REQUIRED", Message: "service is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Operations) == 0 {
		errs = append(errs, VError{Path: prefix + ".operations", Code: "REQUIRED", Message: "at least one operation is required"})
	}

	for i, op := range def.Operations {
		errs = append(errs, v.validateOperation(fmt.Sprintf("%s.operations[%d]", prefix, i), op, def.Service, index)...)
	}
	return errs
}

// ReservedFlags are the command-line flags every operation command carries
// besides its parameter flags. A parameter may not map onto one of them.
var ReservedFlags = []string{
	"select", "pass-thru", "force", "f", "help", "h",
	"config", "region", "profile", "endpoint", "output", "o", "sandbox", "log-level",
}

var reservedFlags = func() map[string]bool {
	m := make(map[string]bool, len(ReservedFlags))
	for _, f := range ReservedFlags {
		m[f] = true
	}
	return m
}()

var validParamTypes = map[string]bool{
	model.ParamString: true, model.ParamStringList: true, model.ParamInt: true,
	model.ParamBool: true, model.ParamMap: true,
}

var validLocations = map[string]bool{
	model.LocationBody: true, model.LocationPath: true, model.LocationQuery: true,
}

func (v *Validator) validateOperation(prefix string, op model.OperationDefinition, service string, index *openapi.Index) []VError {
	var errs []VError

	if op.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	errs = append(errs, v.validateParameters(prefix, op)...)
	errs = append(errs, v.validateBinding(prefix+".binding", op.Binding, service, index)...)

	errs = append(errs, v.validateAgainstIndex(prefix, op, service, index)...)

	if _, err := model.CompileSelector(op.DefaultSelector, op); err != nil {
		errs = append(errs, VError{Path: prefix + ".default_selector", Code: "INVALID_SELECTOR", Message: err.Error()})
	}

	if op.Idempotency != nil {
		p, ok := op.Parameter(op.Idempotency.TokenParameter)
		switch {
		case !ok:
			errs = append(errs, VError{
				Path:    prefix + ".idempotency.token_parameter",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("parameter %q not declared", op.Idempotency.TokenParameter),
			})
		case p.ParamType() != model.ParamString:
			errs = append(errs, VError{
				Path:    prefix + ".idempotency.token_parameter",
				Code:    "INVALID_TYPE",
				Message: "idempotency token parameter must be a string",
			})
		}
		if op.Idempotency.TTL != "" {
			if _, err := time.ParseDuration(op.Idempotency.TTL); err != nil {
				errs = append(errs, VError{Path: prefix + ".idempotency.ttl", Code: "INVALID_DURATION", Message: err.Error()})
			}
		}
	}

	return errs
}

func (v *Validator) validateParameters(prefix string, op model.OperationDefinition) []VError {
	var errs []VError

	names := make(map[string]bool)
	flags := make(map[string]string)
	// Field paths placed in the request. A path used as a scalar cannot also
	// be the parent of a group.
	scalars := make(map[string]bool)
	groups := make(map[string]bool)

	for i, p := range op.Parameters {
		pp := fmt.Sprintf("%s.parameters[%d]", prefix, i)

		switch {
		case p.Name == "":
			errs = append(errs, VError{Path: pp + ".name", Code: "REQUIRED", Message: "name is required"})
		case names[strings.ToLower(p.Name)]:
			errs = append(errs, VError{Path: pp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("parameter %q declared twice", p.Name)})
		default:
			errs = append(errs, checkFlag(pp, p, flags)...)
		}
		names[strings.ToLower(p.Name)] = true

		if !validParamTypes[p.ParamType()] {
			errs = append(errs, VError{Path: pp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid parameter type %q", p.Type)})
		}
		if !validLocations[p.ParamLocation()] {
			errs = append(errs, VError{Path: pp + ".location", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid location %q", p.Location)})
		}

		path := p.FieldPath()
		for _, seg := range path {
			if seg == "" {
				errs = append(errs, VError{Path: pp + ".field", Code: "INVALID_PATH", Message: fmt.Sprintf("malformed field path %q", p.Field)})
				break
			}
		}
		if len(path) > 1 && p.ParamLocation() != model.LocationBody {
			errs = append(errs, VError{Path: pp + ".field", Code: "INVALID_PATH", Message: "nested fields are only allowed in the body"})
		}

		full := strings.Join(path, ".")
		if scalars[full] || groups[full] {
			errs = append(errs, VError{Path: pp + ".field", Code: "FIELD_CONFLICT", Message: fmt.Sprintf("field %q is already bound", full)})
		}
		scalars[full] = true
		for n := 1; n < len(path); n++ {
			groups[strings.Join(path[:n], ".")] = true
		}
	}

	for field := range scalars {
		if groups[field] {
			errs = append(errs, VError{
				Path:    prefix + ".parameters",
				Code:    "FIELD_CONFLICT",
				Message: fmt.Sprintf("field %q is used both as a value and as a group", field),
			})
		}
	}

	return errs
}

// checkFlag reports a parameter whose flag is reserved or already taken by
// another parameter of the operation.
func checkFlag(path string, p model.ParameterDefinition, flags map[string]string) []VError {
	flag := p.FlagName()
	if reservedFlags[flag] {
		return []VError{{
			Path:    path + ".name",
			Code:    "FLAG_CONFLICT",
			Message: fmt.Sprintf("parameter %q maps to the reserved flag --%s", p.Name, flag),
		}}
	}
	if other, taken := flags[flag]; taken {
		return []VError{{
			Path:    path + ".name",
			Code:    "FLAG_CONFLICT",
			Message: fmt.Sprintf("parameters %q and %q both map to the flag --%s", other, p.Name, flag),
		}}
	}
	flags[flag] = p.Name
	return nil
}

func (v *Validator) validateBinding(prefix string, b model.OperationBinding, service string, index *openapi.Index) []VError {
	var errs []VError

	switch b.Type {
	case "":
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "binding.type is required"})
	case BindingREST:
		if b.OperationID == "" && (b.Method == "" || b.Path == "") {
			errs = append(errs, VError{
				Path:    prefix,
				Code:    "REQUIRED",
				Message: "rest binding requires operation_id or both method and path",
			})
		}
	case BindingSDK:
		if b.Handler == "" {
			errs = append(errs, VError{Path: prefix + ".handler", Code: "REQUIRED", Message: "handler required for sdk binding"})
		}
	default:
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid binding type %q", b.Type)})
	}

	// Validate against OpenAPI index.
	if index != nil && b.Type == BindingREST && b.OperationID != "" {
		serviceID := b.ServiceID
		if serviceID == "" {
			serviceID = service
		}
		if _, ok := index.GetOperation(serviceID, b.OperationID); !ok {
			errs = append(errs, VError{
				Path:    prefix + ".operation_id",
				Code:    "OPERATION_NOT_FOUND",
				Message: fmt.Sprintf("operation %q not found in service %q", b.OperationID, serviceID),
			})
		}
	}

	return errs
}

// validateAgainstIndex checks that path parameters of a rest operation are
// path parameters in the service's OpenAPI document.
func (v *Validator) validateAgainstIndex(prefix string, op model.OperationDefinition, service string, index *openapi.Index) []VError {
	if index == nil || op.Binding.Type != BindingREST || op.Binding.OperationID == "" {
		return nil
	}
	serviceID := op.Binding.ServiceID
	if serviceID == "" {
		serviceID = service
	}
	indexed, ok := index.GetOperation(serviceID, op.Binding.OperationID)
	if !ok {
		return nil
	}

	var errs []VError
	for i, p := range op.Parameters {
		if p.ParamLocation() != model.LocationPath {
			continue
		}
		field := p.FieldPath()[0]
		if indexed.ParameterIn(field) != "path" {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.parameters[%d].field", prefix, i),
				Code:    "PATH_PARAM_NOT_FOUND",
				Message: fmt.Sprintf("operation %q has no path parameter %q", op.Binding.OperationID, field),
			})
		}
	}
	return errs
}
