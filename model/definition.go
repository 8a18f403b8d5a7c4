package model

import (
	"strings"
	"unicode"
)

// ServiceDefinition is the root structure of an operation table file. Each
// file declares the operations of one remote service.
type ServiceDefinition struct {
	Service    string                `yaml:"service"    json:"service"`
	Version    string                `yaml:"version"    json:"version"`
	Operations []OperationDefinition `yaml:"operations" json:"operations"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// OperationDefinition is the static descriptor of one remote operation.
type OperationDefinition struct {
	Name            string                `yaml:"name"             json:"name"`
	Description     string                `yaml:"description"      json:"description,omitempty"`
	Mutating        bool                  `yaml:"mutating"         json:"mutating"`
	Binding         OperationBinding      `yaml:"binding"          json:"binding"`
	Parameters      []ParameterDefinition `yaml:"parameters"       json:"parameters,omitempty"`
	ResponseFields  []string              `yaml:"response_fields"  json:"response_fields,omitempty"`
	DefaultSelector string                `yaml:"default_selector" json:"default_selector,omitempty"`
	Idempotency     *IdempotencyConfig    `yaml:"idempotency"      json:"idempotency,omitempty"`
}

// Parameter types understood by the binder.
const (
	ParamString     = "string"
	ParamStringList = "string_list"
	ParamInt        = "int"
	ParamBool       = "bool"
	ParamMap        = "map"
)

// Parameter locations used by the REST transport.
const (
	LocationBody  = "body"
	LocationPath  = "path"
	LocationQuery = "query"
)

// ParameterDefinition declares one typed input of an operation.
type ParameterDefinition struct {
	Name        string `yaml:"name"        json:"name"`
	Field       string `yaml:"field"       json:"field"`
	Type        string `yaml:"type"        json:"type"`
	Mandatory   bool   `yaml:"mandatory"   json:"mandatory"`
	Location    string `yaml:"location"    json:"location,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// FieldPath returns the request field path split on dots. A parameter with no
// explicit field maps to a top-level field named after the parameter.
func (p ParameterDefinition) FieldPath() []string {
	field := p.Field
	if field == "" {
		field = p.Name
	}
	return strings.Split(field, ".")
}

// ParamType returns the declared type, defaulting to string.
func (p ParameterDefinition) ParamType() string {
	if p.Type == "" {
		return ParamString
	}
	return p.Type
}

// ParamLocation returns the declared location, defaulting to body.
func (p ParameterDefinition) ParamLocation() string {
	if p.Location == "" {
		return LocationBody
	}
	return p.Location
}

// FlagName returns the command-line flag for the parameter: Filter_CreatedAfter
// becomes filter-created-after.
func (p ParameterDefinition) FlagName() string {
	var b strings.Builder
	runes := []rune(p.Name)
	for i, r := range runes {
		switch {
		case r == '_' || r == ' ':
			b.WriteByte('-')
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.ReplaceAll(b.String(), "--", "-")
}

// OperationBinding describes how a transport reaches the operation.
type OperationBinding struct {
	Type        string `yaml:"type"         json:"type"`
	ServiceID   string `yaml:"service_id"   json:"service_id,omitempty"`
	OperationID string `yaml:"operation_id" json:"operation_id,omitempty"`
	Method      string `yaml:"method"       json:"method,omitempty"`
	Path        string `yaml:"path"         json:"path,omitempty"`
	Handler     string `yaml:"handler"      json:"handler,omitempty"`
}

// IdempotencyConfig names the client-token parameter used to deduplicate a
// mutating operation.
type IdempotencyConfig struct {
	TokenParameter string `yaml:"token_parameter" json:"token_parameter"`
	TTL            string `yaml:"ttl"             json:"ttl,omitempty"`
}

// Parameter returns the declared parameter with the given name. Names are
// matched case-insensitively.
func (o OperationDefinition) Parameter(name string) (ParameterDefinition, bool) {
	for _, p := range o.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParameterDefinition{}, false
}

// PrimaryParameter returns the identifying parameter: the first mandatory
// parameter, or the first declared one when none is mandatory.
func (o OperationDefinition) PrimaryParameter() (ParameterDefinition, bool) {
	for _, p := range o.Parameters {
		if p.Mandatory {
			return p, true
		}
	}
	if len(o.Parameters) > 0 {
		return o.Parameters[0], true
	}
	return ParameterDefinition{}, false
}

// ResponseField returns the declared response field matching name
// case-insensitively, in its declared spelling.
func (o OperationDefinition) ResponseField(name string) (string, bool) {
	for _, f := range o.ResponseFields {
		if strings.EqualFold(f, name) {
			return f, true
		}
	}
	return "", false
}
