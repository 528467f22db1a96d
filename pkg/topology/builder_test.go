package topology

import (
	"errors"
	"reflect"
	"testing"

	"github.com/loykin/deploypipe/pkg/environment"
)

var (
	devEnv  = environment.Descriptor{Name: "dev", IsProduction: false, Branch: "develop", TestStage: "qa"}
	prodEnv = environment.Descriptor{Name: "prod", IsProduction: true, Branch: "main", TestStage: "qa", ProductionStage: "live"}
)

func TestBuildTopology_StageSequence(t *testing.T) {
	tests := []struct {
		name string
		env  environment.Descriptor
		want []string
	}{
		{"dev skips approval", devEnv, []string{"Source", "Build", "Deploy"}},
		{"prod gates deploy", prodEnv, []string{"Source", "Build", "Approval", "Deploy"}},
		{"non-prod named staging", environment.Descriptor{Name: "staging", Branch: "release"}, []string{"Source", "Build", "Deploy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := BuildTopology(tt.env)
			if err != nil {
				t.Fatalf("BuildTopology: %v", err)
			}
			if got := topo.StageNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StageNames() = %v, want %v", got, tt.want)
			}
			for i, s := range topo.Stages() {
				if s.Order != i+1 {
					t.Errorf("stage %s order = %d, want %d", s.Name, s.Order, i+1)
				}
			}
		})
	}
}

func TestBuildTopology_DeployPrecedingStage(t *testing.T) {
	for _, env := range []environment.Descriptor{devEnv, prodEnv} {
		topo, err := BuildTopology(env)
		if err != nil {
			t.Fatalf("BuildTopology(%s): %v", env.Name, err)
		}
		deploy, ok := topo.Stage(StageDeploy).Get()
		if !ok {
			t.Fatalf("%s: Deploy stage missing", env.Name)
		}
		prev, ok := deploy.PrecedingStage()
		if !ok {
			t.Fatalf("%s: Deploy has no preceding stage", env.Name)
		}
		want := StageBuild
		if env.IsProduction {
			want = StageApproval
		}
		if prev != want {
			t.Errorf("%s: Deploy follows %s, want %s", env.Name, prev, want)
		}
		if prev == StageSource {
			t.Errorf("%s: Deploy must never follow Source", env.Name)
		}
	}
}

func TestBuildTopology_DevApprovalAbsent(t *testing.T) {
	topo, err := BuildTopology(devEnv)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	approval := topo.Stage(StageApproval)
	if !approval.IsAbsent() {
		t.Fatalf("Approval lookup = %v, want absent", approval)
	}
	if _, ok := approval.Get(); ok {
		t.Error("Get() on absent stage reported present")
	}
	fallback := StageSpec{Name: "none"}
	if got := approval.OrElse(fallback); got.Name != "none" {
		t.Errorf("OrElse returned %v", got)
	}
}

func TestBuildTopology_IndependentInstances(t *testing.T) {
	a, err := BuildTopology(prodEnv)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildTopology(prodEnv)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Error("topologies share an id")
	}
	if a.registry == b.registry {
		t.Error("topologies share an artifact registry")
	}
	stages := a.Stages()
	stages[0].Name = "mutated"
	if a.StageNames()[0] != "Source" {
		t.Error("Stages() must return a copy")
	}
}

func TestBuildTopology_InvalidDescriptor(t *testing.T) {
	_, err := BuildTopology(environment.Descriptor{Name: "dev"})
	var keyErr *environment.ConfigKeyError
	if !errors.As(err, &keyErr) || keyErr.Key != environment.KeyBranch {
		t.Fatalf("expected missing BRANCH error, got %v", err)
	}
}

func TestBuilder_DuplicateStage(t *testing.T) {
	b := NewBuilder()
	if err := b.Append("Source", KindSource); err != nil {
		t.Fatal(err)
	}
	err := b.Append("Source", KindBuild)
	var topoErr *TopologyError
	if !errors.As(err, &topoErr) || topoErr.Reason != ReasonDuplicateStage {
		t.Fatalf("expected duplicate stage error, got %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("failed append changed builder, Len() = %d", b.Len())
	}
}

func TestBuilder_UnresolvedPlacement(t *testing.T) {
	b := NewBuilder()
	_ = b.Append("Source", KindSource)

	err := b.InsertAfter("Deploy", KindDeploy, "Approval")
	var topoErr *TopologyError
	if !errors.As(err, &topoErr) {
		t.Fatalf("expected TopologyError, got %v", err)
	}
	if topoErr.Stage != "Deploy" || topoErr.Reference != "Approval" || topoErr.Reason != ReasonUnresolvedPlacement {
		t.Errorf("unexpected error: %+v", topoErr)
	}

	err = b.InsertAfterOrFallback("Deploy", KindDeploy, "Approval", "Build")
	if !errors.As(err, &topoErr) || topoErr.Reference != "Build" {
		t.Errorf("missing fallback should fail naming the fallback, got %v", err)
	}
}

func TestBuilder_InsertInMiddleRenumbers(t *testing.T) {
	b := NewBuilder()
	_ = b.Append("Source", KindSource)
	_ = b.Append("Build", KindBuild)
	_ = b.Append("Deploy", KindDeploy)
	if err := b.InsertAfter("Approval", KindApproval, "Build"); err != nil {
		t.Fatal(err)
	}

	topo, err := b.Build(prodEnv)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []StageSpec{
		{Name: "Source", Kind: KindSource, Order: 1},
		{Name: "Build", Kind: KindBuild, Order: 2, Preceding: "Source"},
		{Name: "Approval", Kind: KindApproval, Order: 3, Preceding: "Build"},
		{Name: "Deploy", Kind: KindDeploy, Order: 4, Preceding: "Approval"},
	}
	if got := topo.Stages(); !reflect.DeepEqual(got, want) {
		t.Errorf("Stages() = %+v\nwant %+v", got, want)
	}
}

func TestBuilder_EmptyAndInvalid(t *testing.T) {
	var topoErr *TopologyError
	if _, err := NewBuilder().Build(devEnv); !errors.As(err, &topoErr) || topoErr.Reason != ReasonNoStages {
		t.Errorf("empty builder: got %v", err)
	}
	if err := NewBuilder().Append(" ", KindSource); !errors.As(err, &topoErr) || topoErr.Reason != ReasonEmptyName {
		t.Errorf("empty name: got %v", err)
	}
	if err := NewBuilder().Append("X", Kind(42)); !errors.As(err, &topoErr) || topoErr.Reason != ReasonInvalidKind {
		t.Errorf("invalid kind: got %v", err)
	}
}

func TestValidateStages(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageSpec
		reason string
	}{
		{
			name: "order gap",
			stages: []StageSpec{
				{Name: "A", Kind: KindSource, Order: 1},
				{Name: "B", Kind: KindDeploy, Order: 3, Preceding: "A"},
			},
			reason: ReasonOrderMismatch,
		},
		{
			name: "forward reference",
			stages: []StageSpec{
				{Name: "A", Kind: KindSource, Order: 1, Preceding: "Z"},
			},
			reason: ReasonUnresolvedPlacement,
		},
		{
			name: "cycle",
			stages: []StageSpec{
				{Name: "A", Kind: KindSource, Order: 1, Preceding: "B"},
				{Name: "B", Kind: KindDeploy, Order: 2, Preceding: "A"},
			},
			reason: ReasonNotLinear,
		},
		{
			name: "branch",
			stages: []StageSpec{
				{Name: "A", Kind: KindSource, Order: 1},
				{Name: "B", Kind: KindBuild, Order: 2, Preceding: "A"},
				{Name: "C", Kind: KindDeploy, Order: 3, Preceding: "A"},
			},
			reason: ReasonNotLinear,
		},
		{
			name: "two roots",
			stages: []StageSpec{
				{Name: "A", Kind: KindSource, Order: 1},
				{Name: "B", Kind: KindDeploy, Order: 2},
			},
			reason: ReasonNotLinear,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStages(tt.stages)
			var topoErr *TopologyError
			if !errors.As(err, &topoErr) {
				t.Fatalf("expected TopologyError, got %v", err)
			}
			if topoErr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", topoErr.Reason, tt.reason)
			}
		})
	}
}

func TestKind_Text(t *testing.T) {
	for _, k := range []Kind{KindSource, KindBuild, KindApproval, KindDeploy} {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", k, err)
		}
		var back Kind
		if err := back.UnmarshalText(b); err != nil || back != k {
			t.Errorf("round trip %v -> %q -> %v (%v)", k, b, back, err)
		}
	}
	if _, err := ParseKind("deploy "); err != nil {
		t.Errorf("ParseKind should be case-insensitive: %v", err)
	}
	if _, err := ParseKind("test"); err == nil {
		t.Error("ParseKind(test) should fail")
	}
}
