package artifact

import (
	"errors"
	"testing"
)

var (
	sourceAction = ActionRef{Stage: "Source", Action: "Checkout"}
	buildAction  = ActionRef{Stage: "Build", Action: "Build"}
)

func TestRegistry_DeclareIsIdempotent(t *testing.T) {
	r := NewRegistry()

	first, err := r.Declare("SourceOutput")
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if err := r.MarkProduced(first, sourceAction); err != nil {
		t.Fatalf("MarkProduced: %v", err)
	}

	second, err := r.Declare("SourceOutput")
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if first != second {
		t.Fatal("re-declaring must return the identical handle")
	}
	if second.State() != Produced {
		t.Errorf("re-declaring reset state to %v", second.State())
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_DeclareEmptyID(t *testing.T) {
	if _, err := NewRegistry().Declare("  "); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestRegistry_MarkProduced(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Declare("BuildOutput")

	if h.State() != Empty {
		t.Fatalf("new handle state = %v, want empty", h.State())
	}
	if _, ok := h.ProducedBy(); ok {
		t.Fatal("empty handle must not report a producer")
	}

	if err := r.MarkProduced(h, buildAction); err != nil {
		t.Fatalf("MarkProduced: %v", err)
	}
	if err := r.MarkProduced(h, buildAction); err != nil {
		t.Errorf("same producer again should be a no-op, got %v", err)
	}

	err := r.MarkProduced(h, sourceAction)
	var already *AlreadyProducedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyProducedError, got %v", err)
	}
	if already.Artifact != "BuildOutput" || already.Existing != buildAction || already.Producer != sourceAction {
		t.Errorf("unexpected error fields: %+v", already)
	}
	if p, _ := h.ProducedBy(); p != buildAction {
		t.Errorf("producer changed to %v", p)
	}
}

func TestRegistry_ResolveForConsumption(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Declare("SourceOutput")

	_, err := r.ResolveForConsumption(h)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) || notReady.Artifact != "SourceOutput" {
		t.Fatalf("expected NotReadyError for SourceOutput, got %v", err)
	}

	_ = r.MarkProduced(h, sourceAction)
	got, err := r.ResolveForConsumption(h)
	if err != nil {
		t.Fatalf("ResolveForConsumption: %v", err)
	}
	if got != h {
		t.Error("resolved handle must be the registry's handle")
	}
}

func TestRegistry_RejectsForeignHandles(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	h, _ := a.Declare("SourceOutput")

	if err := b.MarkProduced(h, sourceAction); err == nil {
		t.Error("expected error for handle from another registry")
	}
	if _, err := b.ResolveForConsumption(h); err == nil {
		t.Error("expected error for handle from another registry")
	}
	if err := a.MarkProduced(nil, sourceAction); err == nil {
		t.Error("expected error for nil handle")
	}
}

func TestRegistry_HandlesSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		_, _ = r.Declare(id)
	}
	hs := r.Handles()
	if len(hs) != 3 || hs[0].ID != "a" || hs[1].ID != "b" || hs[2].ID != "c" {
		t.Errorf("Handles() not sorted: %v", hs)
	}
	if _, ok := r.Lookup("b"); !ok {
		t.Error("Lookup(b) should succeed")
	}
	if _, ok := r.Lookup("z"); ok {
		t.Error("Lookup(z) should fail")
	}
}
