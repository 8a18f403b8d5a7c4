package invoker

import (
	"context"
	"testing"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/model"
)

func TestClientBuilder_invalidScope(t *testing.T) {
	build := NewClientBuilder(BuildOptions{Config: config.Defaults()})

	if _, err := build(model.Scope{Region: "eu-west-1"}); !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR for a scope without profile", err)
	}
}

func TestClientBuilder_unknownProfile(t *testing.T) {
	build := NewClientBuilder(BuildOptions{Config: config.Defaults()})

	if _, err := build(model.Scope{Region: "eu-west-1", Profile: "nobody"}); !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestClientBuilder_missingSecret(t *testing.T) {
	t.Setenv("SEQCTL_SECRET", "")
	build := NewClientBuilder(BuildOptions{Config: config.Defaults()})

	if _, err := build(model.Scope{Region: "eu-west-1", Profile: "default"}); !model.IsConfigurationError(err) {
		t.Errorf("err = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestClientBuilder_rest(t *testing.T) {
	t.Setenv("SEQCTL_SECRET", "s3cret")
	build := NewClientBuilder(BuildOptions{Config: config.Defaults()})

	client, err := build(model.Scope{Region: "us-west-2", Profile: "default"})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	ep := client.Endpoint("omics")
	if ep.URL != "https://omics.us-west-2.example.com" || ep.Region != "us-west-2" || ep.Profile != "default" {
		t.Errorf("Endpoint(omics) = %+v", ep)
	}
}

func TestClientBuilder_endpointOverride(t *testing.T) {
	t.Setenv("SEQCTL_SECRET", "s3cret")
	build := NewClientBuilder(BuildOptions{Config: config.Defaults()})

	client, err := build(model.Scope{Region: "us-west-2", Profile: "default", Endpoint: "http://localhost:4566/"})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if got := client.Endpoint("omics").URL; got != "http://localhost:4566" {
		t.Errorf("Endpoint(omics).URL = %q, want override", got)
	}
}

func TestClientBuilder_sandbox(t *testing.T) {
	handlers := NewSDKHandlerRegistry()
	handlers.Register(echoHandler("GetWorkflow"))

	build := NewClientBuilder(BuildOptions{
		Config:        config.Defaults(),
		Handlers:      handlers,
		Sandbox:       true,
		SandboxSource: "fixtures.yaml",
	})

	// No credentials are needed in sandbox mode.
	client, err := build(model.Scope{Region: "eu-west-1", Profile: "nobody"})
	if err != nil {
		t.Fatalf("build error = %v", err)
	}
	if got := client.Endpoint("omics").URL; got != "sandbox://fixtures.yaml" {
		t.Errorf("Endpoint(omics).URL = %q", got)
	}

	op := model.OperationDefinition{Name: "GetWorkflow", Binding: model.OperationBinding{Type: "rest", ServiceID: "omics"}}
	resp, err := client.Invoke(context.Background(), op, model.Request{"id": "wf-1"})
	if err != nil {
		t.Fatalf("Invoke error = %v", err)
	}
	if resp["handler"] != "GetWorkflow" {
		t.Errorf("resp = %v", resp)
	}
}
