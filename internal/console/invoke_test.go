package console

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	ward "github.com/ward-ops/ward/sdk"
)

func TestExecuteRefreshesInfrastructure(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()

	s := NewStatusSynchronizer(b.client(), nil, time.Hour)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	inv := NewToolInvoker(b.client(), s, nil)

	before := atomic.LoadInt64(&b.infraFetches)
	result, err := inv.Execute(context.Background(), "list_services", nil, ward.ModeReal)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Errorf("result = %+v", result)
	}
	if atomic.LoadInt64(&b.infraFetches) != before+1 {
		t.Error("execution did not refresh the infrastructure feed")
	}

	// Shadow executions refresh too; the backend guarantees no delta.
	before = atomic.LoadInt64(&b.infraFetches)
	if _, err := inv.Execute(context.Background(), "list_services", nil, ward.ModeShadow); err != nil {
		t.Fatalf("shadow Execute: %v", err)
	}
	if atomic.LoadInt64(&b.infraFetches) != before+1 {
		t.Error("shadow execution skipped the infrastructure refresh")
	}
}

func TestMissingRequiredArgsRejectedLocally(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()

	s := NewStatusSynchronizer(b.client(), nil, time.Hour)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	inv := NewToolInvoker(b.client(), s, nil)

	before := atomic.LoadInt64(&b.executes)
	_, err := inv.Execute(context.Background(), "restart_service", nil, ward.ModeReal)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if verr.Tool != "restart_service" || len(verr.Missing) != 1 || verr.Missing[0] != "service_name" {
		t.Errorf("validation error = %+v", verr)
	}
	if atomic.LoadInt64(&b.executes) != before {
		t.Error("invalid arguments reached the backend")
	}

	// A nil value counts as missing.
	_, err = inv.Execute(context.Background(), "restart_service",
		map[string]any{"service_name": nil}, ward.ModeReal)
	if !errors.As(err, &verr) {
		t.Errorf("nil arg err = %v, want *ValidationError", err)
	}
}

func TestUnknownToolPassesThroughToBackend(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()

	s := NewStatusSynchronizer(b.client(), nil, time.Hour)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	inv := NewToolInvoker(b.client(), s, nil)

	before := atomic.LoadInt64(&b.executes)
	if _, err := inv.Execute(context.Background(), "mystery_tool", nil, ward.ModeReal); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt64(&b.executes) != before+1 {
		t.Error("unknown tool was rejected client-side; the backend owns the catalog")
	}
}

func TestExecuteBeforeCatalogLoads(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newFakeBackend(t)
	defer b.srv.Close()

	s := NewStatusSynchronizer(b.client(), nil, time.Hour)
	inv := NewToolInvoker(b.client(), s, nil)

	// No catalog yet: validation is skipped, not failed.
	if _, err := inv.Execute(context.Background(), "restart_service", nil, ward.ModeReal); err != nil {
		t.Fatalf("Execute without catalog: %v", err)
	}
}
