package openapi

import (
	"os"
	"reflect"
	"testing"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "omics", SpecPath: "testdata/omics.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	ids := idx.AllOperationIDs("omics")
	want := []string{"CreateShare", "DeleteShare", "GetWorkflow", "ListRuns", "StartRun"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("AllOperationIDs() = %v, want %v", ids, want)
	}
}

func TestIndex_GetOperation_found(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("omics", "ListRuns")
	if !ok {
		t.Fatal("GetOperation(ListRuns) not found")
	}
	if op.Method != "GET" {
		t.Errorf("Method = %q, want GET", op.Method)
	}
	if op.PathTemplate != "/run" {
		t.Errorf("PathTemplate = %q, want /run", op.PathTemplate)
	}
	if op.ServerURL != "https://omics.eu-west-1.example.com" {
		t.Errorf("ServerURL = %q", op.ServerURL)
	}
}

func TestIndex_GetOperation_with_path_params(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("omics", "GetWorkflow")
	if !ok {
		t.Fatal("GetOperation(GetWorkflow) not found")
	}
	if op.PathTemplate != "/workflow/{id}" {
		t.Errorf("PathTemplate = %q, want /workflow/{id}", op.PathTemplate)
	}
	// Path-level id merged with operation-level query parameters.
	if got := op.ParameterIn("id"); got != "path" {
		t.Errorf("ParameterIn(id) = %q, want path", got)
	}
	if got := op.ParameterIn("export"); got != "query" {
		t.Errorf("ParameterIn(export) = %q, want query", got)
	}
	if got := op.ParameterIn("missing"); got != "" {
		t.Errorf("ParameterIn(missing) = %q, want empty", got)
	}
}

func TestIndex_GetOperation_not_found(t *testing.T) {
	idx := loadTestIndex(t)

	if _, ok := idx.GetOperation("omics", "nonexistent"); ok {
		t.Error("GetOperation(nonexistent) should return false")
	}
	if _, ok := idx.GetOperation("unknown-svc", "ListRuns"); ok {
		t.Error("GetOperation(unknown-svc) should return false")
	}
}

func TestIndex_AllOperationIDs_unknown(t *testing.T) {
	idx := loadTestIndex(t)
	if ids := idx.AllOperationIDs("unknown-svc"); len(ids) != 0 {
		t.Errorf("AllOperationIDs(unknown-svc) = %v, want empty", ids)
	}
}

func TestIndexedOperation_RequiredBodyFields(t *testing.T) {
	idx := loadTestIndex(t)
	op, _ := idx.GetOperation("omics", "StartRun")

	want := []string{"requestId", "roleArn", "workflowId"}
	if got := op.RequiredBodyFields(); !reflect.DeepEqual(got, want) {
		t.Errorf("RequiredBodyFields() = %v, want %v", got, want)
	}

	get, _ := idx.GetOperation("omics", "GetWorkflow")
	if got := get.RequiredBodyFields(); got != nil {
		t.Errorf("RequiredBodyFields(GetWorkflow) = %v, want nil", got)
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("omics", "CreateShare", map[string]any{
		"resourceArn":         "arn:store/1",
		"principalSubscriber": "123456789012",
	})
	if len(errs) != 0 {
		t.Errorf("ValidateRequest() = %v, want no errors", errs)
	}

	errs = idx.ValidateRequest("omics", "CreateShare", map[string]any{"shareName": "x"})
	if len(errs) != 2 {
		t.Fatalf("ValidateRequest() = %v (len %d), want 2 errors", errs, len(errs))
	}

	if errs := idx.ValidateRequest("omics", "ListRuns", map[string]any{}); len(errs) != 0 {
		t.Errorf("ValidateRequest(ListRuns) = %v, want no errors (no request body)", errs)
	}

	if errs := idx.ValidateRequest("omics", "nonexistent", nil); len(errs) != 1 {
		t.Errorf("ValidateRequest(nonexistent) = %v, want 1 error", errs)
	}
}

func TestIndex_LoadData(t *testing.T) {
	data, err := os.ReadFile("testdata/omics.yaml")
	if err != nil {
		t.Fatal(err)
	}
	idx := NewIndex()
	if err := idx.LoadData("omics", data); err != nil {
		t.Fatalf("LoadData() error = %v", err)
	}
	if _, ok := idx.GetOperation("omics", "DeleteShare"); !ok {
		t.Error("GetOperation(DeleteShare) not found after LoadData")
	}
}

func TestIndex_Load_bad_file(t *testing.T) {
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "bad-svc", SpecPath: "testdata/nonexistent.yaml"},
	})
	if err == nil {
		t.Fatal("Load() with bad file should return error")
	}
}
