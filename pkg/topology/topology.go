// Package topology builds the ordered stage graph of a deployment pipeline and
// binds actions to its stages.
package topology

import (
	"slices"
	"time"

	"github.com/loykin/deploypipe/pkg/artifact"
	"github.com/loykin/deploypipe/pkg/environment"
)

// Topology is the root aggregate: the ordered stages, the actions bound to
// them and the artifact registry those actions share.
type Topology struct {
	id        string
	env       environment.Descriptor
	stages    []StageSpec
	actions   []*Action
	registry  *artifact.Registry
	createdAt time.Time
	finalized bool
}

// ID returns the topology's unique id.
func (t *Topology) ID() string { return t.id }

// Environment returns a copy of the descriptor the topology was built from.
func (t *Topology) Environment() environment.Descriptor { return t.env }

// CreatedAt returns the construction time.
func (t *Topology) CreatedAt() time.Time { return t.createdAt }

// Finalized reports whether Binder.Finalize succeeded on this topology.
func (t *Topology) Finalized() bool { return t.finalized }

// Stages returns the stages in order.
func (t *Topology) Stages() []StageSpec {
	return slices.Clone(t.stages)
}

// StageNames returns the stage names in order.
func (t *Topology) StageNames() []string {
	out := make([]string, len(t.stages))
	for i, s := range t.stages {
		out[i] = string(s.Name)
	}
	return out
}

// Stage looks up a stage by name.
func (t *Topology) Stage(name StageRef) OptionalStage {
	for _, s := range t.stages {
		if s.Name == name {
			return Present(s)
		}
	}
	return Absent()
}

// Terminal returns the last stage.
func (t *Topology) Terminal() StageSpec {
	return t.stages[len(t.stages)-1]
}

// Actions returns copies of every bound action in binding order.
func (t *Topology) Actions() []Action {
	out := make([]Action, len(t.actions))
	for i, a := range t.actions {
		out[i] = a.clone()
	}
	return out
}

// ActionsIn returns the actions of one stage ordered by run order.
func (t *Topology) ActionsIn(stage StageRef) []Action {
	var out []Action
	for _, a := range t.actions {
		if a.Stage == stage {
			out = append(out, a.clone())
		}
	}
	slices.SortStableFunc(out, func(a, b Action) int { return a.RunOrder - b.RunOrder })
	return out
}

// Artifacts returns a read-only view of the registry.
func (t *Topology) Artifacts() []ArtifactSnapshot {
	hs := t.registry.Handles()
	out := make([]ArtifactSnapshot, len(hs))
	for i, h := range hs {
		out[i] = ArtifactSnapshot{ID: h.ID, State: h.State().String()}
		if p, ok := h.ProducedBy(); ok {
			out[i].ProducedBy = p.String()
		}
	}
	return out
}

func (t *Topology) hasAction(stage StageRef, name string) bool {
	return slices.ContainsFunc(t.actions, func(a *Action) bool {
		return a.Stage == stage && a.Name == name
	})
}
