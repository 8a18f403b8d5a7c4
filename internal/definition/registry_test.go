package definition

import (
	"sync"
	"testing"

	"github.com/pitabwire/seqctl/model"
)

func testDefs() []model.ServiceDefinition {
	return []model.ServiceDefinition{
		{
			Service:  "omics",
			Version:  "1",
			Checksum: "abc123",
			Operations: []model.OperationDefinition{
				{Name: "ListRuns"},
				{Name: "GetWorkflow", DefaultSelector: "*"},
			},
		},
		{
			Service:  "shares",
			Version:  "1",
			Checksum: "def456",
			Operations: []model.OperationDefinition{
				{Name: "CreateShare", Mutating: true},
			},
		},
	}
}

func TestRegistry_GetOperation(t *testing.T) {
	r := NewRegistry(testDefs())

	op, ok := r.GetOperation("GetWorkflow")
	if !ok {
		t.Fatal("GetOperation(GetWorkflow) not found")
	}
	if op.DefaultSelector != "*" {
		t.Errorf("DefaultSelector = %q, want *", op.DefaultSelector)
	}

	if _, ok := r.GetOperation("getworkflow"); !ok {
		t.Error("GetOperation(getworkflow) should match case-insensitively")
	}
	if _, ok := r.GetOperation("unknown"); ok {
		t.Error("GetOperation(unknown) should return false")
	}
}

func TestRegistry_GetService(t *testing.T) {
	r := NewRegistry(testDefs())

	d, ok := r.GetService("shares")
	if !ok {
		t.Fatal("GetService(shares) not found")
	}
	if len(d.Operations) != 1 {
		t.Errorf("Operations = %d, want 1", len(d.Operations))
	}
	if _, ok := r.GetService("unknown"); ok {
		t.Error("GetService(unknown) should return false")
	}
}

func TestRegistry_AllOperations_sorted(t *testing.T) {
	r := NewRegistry(testDefs())

	ops := r.AllOperations()
	want := []string{"CreateShare", "GetWorkflow", "ListRuns"}
	if len(ops) != len(want) {
		t.Fatalf("AllOperations() = %d, want %d", len(ops), len(want))
	}
	for i, op := range ops {
		if op.Name != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, op.Name, want[i])
		}
	}
}

func TestRegistry_AllServices(t *testing.T) {
	r := NewRegistry(testDefs())
	svcs := r.AllServices()
	if len(svcs) != 2 || svcs[0].Service != "omics" || svcs[1].Service != "shares" {
		t.Errorf("AllServices() = %+v", svcs)
	}
}

func TestRegistry_Checksum(t *testing.T) {
	r := NewRegistry(testDefs())
	if r.Checksum() == "" {
		t.Fatal("Checksum() should not be empty")
	}

	// Order of definitions must not matter.
	defs := testDefs()
	r2 := NewRegistry([]model.ServiceDefinition{defs[1], defs[0]})
	if r.Checksum() != r2.Checksum() {
		t.Error("Checksum() should be independent of definition order")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(testDefs())
	old := r.Checksum()

	r.Replace([]model.ServiceDefinition{
		{Service: "omics", Checksum: "new", Operations: []model.OperationDefinition{{Name: "GetRun"}}},
	})

	if _, ok := r.GetOperation("ListRuns"); ok {
		t.Error("ListRuns should be gone after Replace")
	}
	if _, ok := r.GetOperation("GetRun"); !ok {
		t.Error("GetRun should exist after Replace")
	}
	if r.Checksum() == old {
		t.Error("Checksum() should change after Replace")
	}
}

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry(nil)
	if _, ok := r.GetOperation("anything"); ok {
		t.Error("empty registry should return false")
	}
	if len(r.AllOperations()) != 0 {
		t.Error("empty registry should have no operations")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(testDefs())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.GetOperation("GetWorkflow")
			r.AllOperations()
			r.Checksum()
		}()
		go func() {
			defer wg.Done()
			r.Replace(testDefs())
		}()
	}
	wg.Wait()
}
