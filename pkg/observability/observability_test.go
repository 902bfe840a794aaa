package observability

import (
	"context"
	"testing"
)

func TestNewWithEmptyEndpointReturnsNoOpProvider(t *testing.T) {
	p, err := New(context.Background(), Config{ServiceName: "moduforge-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Tracer() == nil {
		t.Fatalf("expected a non-nil no-op tracer")
	}
	if p.Meter() == nil {
		t.Fatalf("expected a non-nil no-op meter")
	}
}

func TestShutdownWithNoProvidersStartedIsANoOp(t *testing.T) {
	p, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
