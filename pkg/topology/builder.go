package topology

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/artifact"
	"github.com/loykin/deploypipe/pkg/environment"
)

// Builder assembles an ordered stage list. Every placement names the stage it
// follows; orders are renumbered 1..n after each change.
type Builder struct {
	stages []StageSpec
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append places a stage after the current last stage.
func (b *Builder) Append(name StageRef, kind Kind) error {
	if len(b.stages) == 0 {
		return b.insert(name, kind, "", 0)
	}
	return b.InsertAfter(name, kind, b.stages[len(b.stages)-1].Name)
}

// InsertAfter places a stage directly after an already materialised stage.
func (b *Builder) InsertAfter(name StageRef, kind Kind, after StageRef) error {
	i := b.indexOf(after)
	if i < 0 {
		return &TopologyError{Stage: string(name), Reference: string(after), Reason: ReasonUnresolvedPlacement}
	}
	return b.insert(name, kind, after, i+1)
}

// InsertAfterOrFallback places a stage after `after` when it is materialised,
// otherwise after `fallback`.
func (b *Builder) InsertAfterOrFallback(name StageRef, kind Kind, after, fallback StageRef) error {
	if b.Lookup(after).IsAbsent() {
		return b.InsertAfter(name, kind, fallback)
	}
	return b.InsertAfter(name, kind, after)
}

// Lookup returns the named stage if it has been placed.
func (b *Builder) Lookup(name StageRef) OptionalStage {
	if i := b.indexOf(name); i >= 0 {
		return Present(b.stages[i])
	}
	return Absent()
}

// Len returns the number of placed stages.
func (b *Builder) Len() int { return len(b.stages) }

func (b *Builder) insert(name StageRef, kind Kind, after StageRef, at int) error {
	if strings.TrimSpace(string(name)) == "" {
		return &TopologyError{Reason: ReasonEmptyName}
	}
	if !kind.Valid() {
		return &TopologyError{Stage: string(name), Reason: ReasonInvalidKind}
	}
	if b.indexOf(name) >= 0 {
		return &TopologyError{Stage: string(name), Reason: ReasonDuplicateStage}
	}

	spec := StageSpec{Name: name, Kind: kind, Preceding: after}
	b.stages = slices.Insert(b.stages, at, spec)
	// The stage that used to follow `after` now follows the new one.
	if at+1 < len(b.stages) {
		b.stages[at+1].Preceding = name
	}
	for i := range b.stages {
		b.stages[i].Order = i + 1
	}
	return nil
}

func (b *Builder) indexOf(name StageRef) int {
	return slices.IndexFunc(b.stages, func(s StageSpec) bool { return s.Name == name })
}

// Build validates the stage list and produces an independent Topology for env.
func (b *Builder) Build(env environment.Descriptor) (*Topology, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment descriptor: %w", err)
	}
	stages := slices.Clone(b.stages)
	if err := validateStages(stages); err != nil {
		return nil, err
	}

	t := &Topology{
		id:        uuid.NewString(),
		env:       env,
		stages:    stages,
		registry:  artifact.NewRegistry(),
		createdAt: time.Now().UTC(),
	}
	common.GetLogger().WithComponent("topology").WithTopology(t.id, env.Name).
		Debug("topology built", "stages", t.StageNames())
	return t, nil
}

// validateStages checks that the stages form a single chain whose
// topological order matches the explicit order values.
func validateStages(stages []StageSpec) error {
	if len(stages) == 0 {
		return &TopologyError{Reason: ReasonNoStages}
	}
	g, err := graphFromStages(stages)
	if err != nil {
		return err
	}
	if cycle := g.detectCycle(); cycle != nil {
		return &TopologyError{Stage: string(cycle[0]), Reason: ReasonNotLinear}
	}
	if roots := g.roots(); len(roots) != 1 {
		return &TopologyError{Reason: ReasonNotLinear}
	}
	for _, s := range stages {
		if len(g.dependents(s.Name)) > 1 {
			return &TopologyError{Stage: string(s.Name), Reason: ReasonNotLinear}
		}
	}
	sorted, err := g.topologicalSort()
	if err != nil {
		return &TopologyError{Reason: ReasonNotLinear}
	}
	for i, name := range sorted {
		s := stages[i]
		if s.Name != name || s.Order != i+1 {
			return &TopologyError{Stage: string(s.Name), Reference: string(name), Reason: ReasonOrderMismatch}
		}
	}
	return nil
}

// BuildTopology produces the standard stage sequence for env: Source, Build,
// Approval when env requires it, then Deploy.
func BuildTopology(env environment.Descriptor) (*Topology, error) {
	b := NewBuilder()
	if err := b.Append(StageSource, KindSource); err != nil {
		return nil, err
	}
	if err := b.InsertAfter(StageBuild, KindBuild, StageSource); err != nil {
		return nil, err
	}
	if env.RequiresApproval() {
		if err := b.InsertAfter(StageApproval, KindApproval, StageBuild); err != nil {
			return nil, err
		}
	}
	if err := b.InsertAfterOrFallback(StageDeploy, KindDeploy, StageApproval, StageBuild); err != nil {
		return nil, err
	}
	return b.Build(env)
}
