// Package openapi loads and indexes the OpenAPI documents of remote services,
// providing operation lookup by operationId.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI document to load.
type SpecSource struct {
	ServiceID string
	SpecPath  string
}

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	ServerURL    string
}

// ParameterIn returns where the named parameter is carried ("path",
// "query", "header"), or "" when the operation does not declare it.
func (op IndexedOperation) ParameterIn(name string) string {
	for _, p := range op.Parameters {
		if p.Name == name {
			return p.In
		}
	}
	return ""
}

// RequiredBodyFields returns the required top-level members of the JSON
// request body, sorted.
func (op IndexedOperation) RequiredBodyFields() []string {
	if op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}
	fields := append([]string(nil), ct.Schema.Value.Required...)
	sort.Strings(fields)
	return fields
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of OpenAPI operations keyed by (serviceID, operationID).
type Index struct {
	operations map[string]IndexedOperation // key: "serviceID:operationID"
	byService  map[string][]string         // serviceID → []operationID
}

// NewIndex creates an empty OpenAPI index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses OpenAPI documents from the given sources and indexes all operations.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := idx.add(src.ServiceID, doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadData indexes a single OpenAPI document held in memory.
func (idx *Index) LoadData(serviceID string, data []byte) error {
	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing %s: %w", serviceID, err)
	}
	return idx.add(serviceID, doc)
}

func (idx *Index) add(serviceID string, doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", serviceID, err)
	}

	var serverURL string
	if len(doc.Servers) > 0 {
		serverURL = doc.Servers[0].URL
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Operation-level parameters override path-level ones of the
			// same name and location.
			var params []*openapi3.Parameter
			seen := make(map[string]bool)
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
					seen[ref.Value.In+":"+ref.Value.Name] = true
				}
			}
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil && !seen[ref.Value.In+":"+ref.Value.Name] {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			key := operationKey(serviceID, op.OperationID)
			if _, dup := idx.operations[key]; !dup {
				idx.byService[serviceID] = append(idx.byService[serviceID], op.OperationID)
			}
			idx.operations[key] = IndexedOperation{
				ServiceID:    serviceID,
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				ServerURL:    serverURL,
			}
		}
	}

	return nil
}

// GetOperation returns the indexed operation for the given service and operation ID.
func (idx *Index) GetOperation(serviceID, operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation IDs for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := make([]string, len(idx.byService[serviceID]))
	copy(ids, idx.byService[serviceID])
	sort.Strings(ids)
	return ids
}

// ValidateRequest checks a request body against the operation's required
// body members. Returns nil when the body is acceptable.
func (idx *Index) ValidateRequest(serviceID, operationID string, body map[string]any) []ValidationError {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s/%s not found", serviceID, operationID)}}
	}

	var errs []ValidationError
	for _, req := range op.RequiredBodyFields() {
		if _, exists := body[req]; !exists {
			errs = append(errs, ValidationError{
				Field:   req,
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}
	return errs
}
