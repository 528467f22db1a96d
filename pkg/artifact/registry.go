// Package artifact tracks the named artifacts that flow between pipeline actions.
//
// A Registry is the single owner of every Handle it declares. Actions refer to
// artifacts by id; the registry enforces that each artifact is produced by
// exactly one action and that nothing consumes an artifact before it is produced.
package artifact

import (
	"fmt"
	"sort"
	"strings"
)

// State is the production state of an artifact.
type State int

const (
	Empty State = iota
	Produced
)

func (s State) String() string {
	if s == Produced {
		return "produced"
	}
	return "empty"
}

// ActionRef identifies the action that produced an artifact.
type ActionRef struct {
	Stage  string `json:"stage"`
	Action string `json:"action"`
}

func (r ActionRef) String() string {
	return r.Stage + "/" + r.Action
}

// Handle is the registry's record of one artifact. Callers must not mutate it;
// state changes go through the Registry.
type Handle struct {
	ID         string
	state      State
	producedBy ActionRef
}

// State returns the current production state.
func (h *Handle) State() State { return h.state }

// ProducedBy returns the producing action and true once the artifact is produced.
func (h *Handle) ProducedBy() (ActionRef, bool) {
	return h.producedBy, h.state == Produced
}

// AlreadyProducedError is returned when a second, different action claims to produce an artifact.
type AlreadyProducedError struct {
	Artifact string
	Existing ActionRef
	Producer ActionRef
}

func (e *AlreadyProducedError) Error() string {
	return fmt.Sprintf("artifact %q already produced by %s, cannot be produced by %s", e.Artifact, e.Existing, e.Producer)
}

// NotReadyError is returned when an artifact is consumed before any action produced it.
type NotReadyError struct {
	Artifact string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("artifact %q is not produced by any prior action", e.Artifact)
}

// Registry owns artifact handles for one topology. It is not safe for
// concurrent use; topology construction is single-threaded.
type Registry struct {
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Declare returns the handle for id, creating it in the Empty state on first use.
// Declaring an existing id returns the identical handle without touching its state.
func (r *Registry) Declare(id string) (*Handle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("artifact id must not be empty")
	}
	if h, ok := r.handles[id]; ok {
		return h, nil
	}
	h := &Handle{ID: id}
	r.handles[id] = h
	return h, nil
}

// MarkProduced moves h from Empty to Produced. Repeating the call with the
// same producer is a no-op.
func (r *Registry) MarkProduced(h *Handle, producer ActionRef) error {
	if err := r.owns(h); err != nil {
		return err
	}
	if h.state == Produced {
		if h.producedBy == producer {
			return nil
		}
		return &AlreadyProducedError{Artifact: h.ID, Existing: h.producedBy, Producer: producer}
	}
	h.state = Produced
	h.producedBy = producer
	return nil
}

// ResolveForConsumption returns h if it has been produced.
func (r *Registry) ResolveForConsumption(h *Handle) (*Handle, error) {
	if err := r.owns(h); err != nil {
		return nil, err
	}
	if h.state != Produced {
		return nil, &NotReadyError{Artifact: h.ID}
	}
	return h, nil
}

// Lookup returns the handle for id if it was declared.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	h, ok := r.handles[id]
	return h, ok
}

// Handles returns every declared handle sorted by id.
func (r *Registry) Handles() []*Handle {
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of declared artifacts.
func (r *Registry) Len() int { return len(r.handles) }

func (r *Registry) owns(h *Handle) error {
	if h == nil {
		return fmt.Errorf("nil artifact handle")
	}
	if r.handles[h.ID] != h {
		return fmt.Errorf("artifact %q was not declared by this registry", h.ID)
	}
	return nil
}
