package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/artifact"
	"github.com/loykin/deploypipe/pkg/environment"
)

const testToken = "gho_supersecretvalue"

type fakeParams map[string]string

func (f fakeParams) Lookup(_ context.Context, path string) (string, error) {
	v, ok := f[path]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", path)
	}
	return v, nil
}

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := f[ref]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func testResolution() Resolution {
	return Resolution{
		Config: environment.Config{
			Env:           "prod",
			Branch:        "main",
			ReportURL:     "/pipeline/report",
			NotifyURL:     "/pipeline/notify",
			CredentialRef: "github-token",
		},
		Params: fakeParams{
			"/pipeline/report": "https://hooks.example.com/report",
			"/pipeline/notify": "arn:topic:approvals",
		},
		Secrets: fakeSecrets{"github-token": testToken},
	}
}

func sourceSpec() ActionSpec {
	return ActionSpec{Name: "Checkout", Kind: KindSource, Outputs: []string{"SourceOutput"},
		Params: map[string]string{"owner": "loykin", "repo": "service"}}
}

func buildSpec() ActionSpec {
	return ActionSpec{Name: "Build", Kind: KindBuild, Inputs: []string{"SourceOutput"}, Outputs: []string{"BuildOutput"},
		Params: map[string]string{"spec": "buildspec.yml"}}
}

func deploySpec() ActionSpec {
	return ActionSpec{Name: "Deploy", Kind: KindDeploy, Inputs: []string{"BuildOutput"}}
}

func newBinder(t *testing.T, env environment.Descriptor) (*Topology, *Binder) {
	t.Helper()
	topo, err := BuildTopology(env)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	return topo, NewBinder(topo, testResolution())
}

func mustAttach(t *testing.T, b *Binder, stage StageRef, spec ActionSpec) *Action {
	t.Helper()
	a, err := b.Attach(context.Background(), stage, spec)
	if err != nil {
		t.Fatalf("Attach(%s, %s): %v", stage, spec.Name, err)
	}
	return a
}

func TestBinder_ProdPipeline(t *testing.T) {
	topo, b := newBinder(t, prodEnv)

	src := mustAttach(t, b, StageSource, sourceSpec())
	build := mustAttach(t, b, StageBuild, buildSpec())
	approval := mustAttach(t, b, StageApproval, ActionSpec{Name: "Approve", Kind: KindApproval})
	deploy := mustAttach(t, b, StageDeploy, deploySpec())

	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !topo.Finalized() {
		t.Error("topology should be finalized")
	}

	if src.Credential.Reveal() != testToken || src.Credential.Ref() != "github-token" {
		t.Errorf("source credential not resolved: ref=%q", src.Credential.Ref())
	}
	if src.Params[ParamBranch] != "main" || src.Params["owner"] != "loykin" {
		t.Errorf("source params = %v", src.Params)
	}
	if _, leaked := src.Params[ParamCredentialRef]; leaked {
		t.Error("credential must not be stored as a plain parameter")
	}

	wantBuild := map[string]string{
		ParamBranch:    "main",
		ParamTestStage: "qa",
		ParamProdStage: "live",
		ParamReportURL: "https://hooks.example.com/report",
		"spec":         "buildspec.yml",
	}
	for k, v := range wantBuild {
		if build.Params[k] != v {
			t.Errorf("build param %s = %q, want %q", k, build.Params[k], v)
		}
	}
	if approval.Params[ParamNotifyURL] != "arn:topic:approvals" {
		t.Errorf("approval notify target = %q", approval.Params[ParamNotifyURL])
	}
	if deploy.Params[ParamTargetStage] != "live" {
		t.Errorf("deploy target = %q", deploy.Params[ParamTargetStage])
	}

	arts := topo.Artifacts()
	if len(arts) != 2 {
		t.Fatalf("artifacts = %+v", arts)
	}
	if arts[0].ID != "BuildOutput" || arts[0].ProducedBy != "Build/Build" {
		t.Errorf("BuildOutput = %+v", arts[0])
	}
	if arts[1].ID != "SourceOutput" || arts[1].ProducedBy != "Source/Checkout" {
		t.Errorf("SourceOutput = %+v", arts[1])
	}
}

func TestBinder_DevHasNoApprovalAction(t *testing.T) {
	topo, b := newBinder(t, devEnv)
	mustAttach(t, b, StageSource, sourceSpec())
	mustAttach(t, b, StageBuild, buildSpec())
	deploy := mustAttach(t, b, StageDeploy, deploySpec())
	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	for _, a := range topo.Actions() {
		if a.Kind == KindApproval {
			t.Errorf("dev topology holds approval action %s", a.Name)
		}
	}
	if deploy.Params[ParamTargetStage] != "qa" {
		t.Errorf("dev deploy target = %q, want qa", deploy.Params[ParamTargetStage])
	}

	_, err := b.Attach(context.Background(), StageApproval, ActionSpec{Name: "Approve", Kind: KindApproval})
	var topoErr *TopologyError
	if !errors.As(err, &topoErr) {
		t.Fatalf("expected TopologyError for finalized topology, got %v", err)
	}
}

func TestBinder_AttachToAbsentStage(t *testing.T) {
	_, b := newBinder(t, devEnv)
	_, err := b.Attach(context.Background(), StageApproval, ActionSpec{Name: "Approve", Kind: KindApproval})
	var topoErr *TopologyError
	if !errors.As(err, &topoErr) || topoErr.Reason != ReasonAbsentStage || topoErr.Stage != "Approval" {
		t.Fatalf("expected absent-stage TopologyError, got %v", err)
	}
}

func TestBinder_BuildBeforeSourceNotReady(t *testing.T) {
	topo, b := newBinder(t, devEnv)

	_, err := b.Attach(context.Background(), StageBuild, buildSpec())
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expected BindError, got %v", err)
	}
	if bindErr.Stage != "Build" || bindErr.Action != "Build" || bindErr.Artifact != "SourceOutput" {
		t.Errorf("unexpected location: %+v", bindErr)
	}
	var notReady *artifact.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError inside, got %v", err)
	}
	if len(topo.Actions()) != 0 {
		t.Error("failed attach left an action behind")
	}
	if h, ok := topo.registry.Lookup("BuildOutput"); ok && h.State() == artifact.Produced {
		t.Error("failed attach marked BuildOutput produced")
	}

	// Out-of-order declaration is fine once production happens first.
	mustAttach(t, b, StageSource, sourceSpec())
	mustAttach(t, b, StageBuild, buildSpec())
}

func TestBinder_DoubleProducer(t *testing.T) {
	_, b := newBinder(t, devEnv)
	mustAttach(t, b, StageSource, sourceSpec())

	second := sourceSpec()
	second.Name = "Mirror"
	_, err := b.Attach(context.Background(), StageSource, second)
	var already *artifact.AlreadyProducedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyProducedError, got %v", err)
	}
	if already.Existing.Action != "Checkout" || already.Producer.Action != "Mirror" {
		t.Errorf("unexpected producers: %+v", already)
	}
}

type countingParams struct {
	calls int
	err   error
}

func (c *countingParams) Lookup(context.Context, string) (string, error) {
	c.calls++
	return "", c.err
}

type countingSecrets struct {
	calls int
}

func (c *countingSecrets) Resolve(context.Context, string) (string, error) {
	c.calls++
	return testToken, nil
}

func TestBinder_WiringCheckedBeforeResolution(t *testing.T) {
	topo, err := BuildTopology(devEnv)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	params := &countingParams{err: errors.New("parameter service unavailable")}
	secrets := &countingSecrets{}
	res := testResolution()
	res.Params, res.Secrets = params, secrets
	b := NewBinder(topo, res)

	_, err = b.Attach(context.Background(), StageBuild, buildSpec())
	var notReady *artifact.NotReadyError
	if !errors.As(err, &notReady) || notReady.Artifact != "SourceOutput" {
		t.Fatalf("expected NotReadyError for SourceOutput, got %v", err)
	}
	if params.calls != 0 {
		t.Errorf("parameter store consulted %d times for an unwired action", params.calls)
	}

	mustAttach(t, b, StageSource, sourceSpec())
	if secrets.calls != 1 {
		t.Fatalf("secret resolutions = %d, want 1", secrets.calls)
	}
	second := sourceSpec()
	second.Name = "Mirror"
	_, err = b.Attach(context.Background(), StageSource, second)
	var already *artifact.AlreadyProducedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyProducedError, got %v", err)
	}
	if secrets.calls != 1 {
		t.Errorf("credential resolved again for a rejected action: %d calls", secrets.calls)
	}

	// Wiring holds, so the parameter store failure now surfaces.
	_, err = b.Attach(context.Background(), StageBuild, buildSpec())
	var resErr *ConfigResolutionError
	if !errors.As(err, &resErr) || params.calls != 1 {
		t.Fatalf("expected ConfigResolutionError after one lookup, got %v (calls=%d)", err, params.calls)
	}
	if _, ok := topo.registry.Lookup("BuildOutput"); ok {
		t.Error("failed resolution left BuildOutput in the registry")
	}
}

func TestBinder_FailedAttachLeavesNoArtifacts(t *testing.T) {
	topo, b := newBinder(t, devEnv)
	if _, err := b.Attach(context.Background(), StageBuild, buildSpec()); err == nil {
		t.Fatal("expected Build before Source to fail")
	}
	if arts := topo.Artifacts(); len(arts) != 0 {
		t.Errorf("artifacts after failed attach = %+v", arts)
	}
}

func TestBinder_StageKindMismatch(t *testing.T) {
	_, b := newBinder(t, devEnv)
	mustAttach(t, b, StageSource, sourceSpec())
	mustAttach(t, b, StageBuild, buildSpec())

	_, err := b.Attach(context.Background(), StageBuild, ActionSpec{Name: "Deploy", Kind: KindDeploy, Inputs: []string{"BuildOutput"}})
	var mismatch *StageKindMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected StageKindMismatchError, got %v", err)
	}
	if mismatch.Stage != "Build" || mismatch.StageKind != KindBuild || mismatch.ActionKind != KindDeploy {
		t.Errorf("unexpected error: %+v", mismatch)
	}
}

func TestBinder_ShapeRules(t *testing.T) {
	tests := []struct {
		name  string
		stage StageRef
		spec  ActionSpec
	}{
		{"source with input", StageSource, ActionSpec{Name: "S", Kind: KindSource, Inputs: []string{"x"}, Outputs: []string{"y"}}},
		{"source without output", StageSource, ActionSpec{Name: "S", Kind: KindSource}},
		{"build without input", StageBuild, ActionSpec{Name: "B", Kind: KindBuild, Outputs: []string{"y"}}},
		{"build with two outputs", StageBuild, ActionSpec{Name: "B", Kind: KindBuild, Inputs: []string{"x"}, Outputs: []string{"y", "z"}}},
		{"approval with input", StageApproval, ActionSpec{Name: "A", Kind: KindApproval, Inputs: []string{"x"}}},
		{"deploy with output", StageDeploy, ActionSpec{Name: "D", Kind: KindDeploy, Inputs: []string{"x"}, Outputs: []string{"y"}}},
		{"deploy without input", StageDeploy, ActionSpec{Name: "D", Kind: KindDeploy}},
		{"empty name", StageDeploy, ActionSpec{Name: " ", Kind: KindDeploy, Inputs: []string{"x"}}},
		{"duplicate input", StageDeploy, ActionSpec{Name: "D", Kind: KindDeploy, Inputs: []string{"x", "x"}}},
		{"empty artifact id", StageDeploy, ActionSpec{Name: "D", Kind: KindDeploy, Inputs: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b := newBinder(t, prodEnv)
			_, err := b.Attach(context.Background(), tt.stage, tt.spec)
			var invalid *InvalidActionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidActionError, got %v", err)
			}
		})
	}
}

func TestBinder_DuplicateActionName(t *testing.T) {
	_, b := newBinder(t, devEnv)
	mustAttach(t, b, StageSource, sourceSpec())
	_, err := b.Attach(context.Background(), StageSource, sourceSpec())
	var invalid *InvalidActionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidActionError, got %v", err)
	}
}

func TestBinder_ConfigResolutionErrors(t *testing.T) {
	topo, err := BuildTopology(prodEnv)
	if err != nil {
		t.Fatal(err)
	}
	res := testResolution()
	res.Params = fakeParams{}
	res.Secrets = fakeSecrets{}
	b := NewBinder(topo, res)

	_, err = b.Attach(context.Background(), StageSource, sourceSpec())
	var cfgErr *ConfigResolutionError
	if !errors.As(err, &cfgErr) || cfgErr.Path != "github-token" {
		t.Fatalf("expected ConfigResolutionError for credential, got %v", err)
	}

	b.res.Secrets = fakeSecrets{"github-token": testToken}
	mustAttach(t, b, StageSource, sourceSpec())

	_, err = b.Attach(context.Background(), StageBuild, buildSpec())
	if !errors.As(err, &cfgErr) || cfgErr.Path != "/pipeline/report" {
		t.Fatalf("expected ConfigResolutionError for report url, got %v", err)
	}
	if h, _ := topo.registry.Lookup("BuildOutput"); h != nil && h.State() == artifact.Produced {
		t.Error("config failure must not mark outputs produced")
	}

	b.res.Params = nil
	_, err = b.Attach(context.Background(), StageApproval, ActionSpec{Name: "Approve", Kind: KindApproval})
	if !errors.As(err, &cfgErr) || cfgErr.Path != "/pipeline/notify" {
		t.Fatalf("expected ConfigResolutionError without parameter store, got %v", err)
	}
}

func TestBinder_MissingCredentialRef(t *testing.T) {
	topo, _ := BuildTopology(devEnv)
	b := NewBinder(topo, Resolution{Secrets: fakeSecrets{}})
	_, err := b.Attach(context.Background(), StageSource, sourceSpec())
	var cfgErr *ConfigResolutionError
	if !errors.As(err, &cfgErr) || cfgErr.Path != ParamCredentialRef {
		t.Fatalf("expected ConfigResolutionError for CREDENTIAL_REF, got %v", err)
	}
}

func TestBinder_FinalizeRules(t *testing.T) {
	t.Run("empty stage", func(t *testing.T) {
		_, b := newBinder(t, prodEnv)
		mustAttach(t, b, StageSource, sourceSpec())
		mustAttach(t, b, StageBuild, buildSpec())
		mustAttach(t, b, StageDeploy, deploySpec())

		err := b.Finalize()
		var topoErr *TopologyError
		if !errors.As(err, &topoErr) || topoErr.Stage != "Approval" || topoErr.Reason != ReasonEmptyStage {
			t.Fatalf("expected empty Approval stage error, got %v", err)
		}
	})

	t.Run("terminal not deploy", func(t *testing.T) {
		builder := NewBuilder()
		_ = builder.Append("Source", KindSource)
		_ = builder.Append("Build", KindBuild)
		topo, err := builder.Build(devEnv)
		if err != nil {
			t.Fatal(err)
		}
		b := NewBinder(topo, testResolution())
		mustAttach(t, b, "Source", sourceSpec())
		mustAttach(t, b, "Build", buildSpec())

		err = b.Finalize()
		var topoErr *TopologyError
		if !errors.As(err, &topoErr) || topoErr.Reason != ReasonTerminalKind {
			t.Fatalf("expected terminal kind error, got %v", err)
		}
	})
}

func TestSecret_NeverRenders(t *testing.T) {
	_, b := newBinder(t, devEnv)
	src := mustAttach(t, b, StageSource, sourceSpec())

	for _, s := range []string{
		fmt.Sprintf("%v", src.Credential),
		fmt.Sprintf("%+v", *src),
		fmt.Sprintf("%#v", src.Credential),
		src.Credential.String(),
	} {
		if strings.Contains(s, testToken) {
			t.Errorf("secret leaked in %q", s)
		}
	}

	data, err := json.Marshal(src)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte(testToken)) {
		t.Errorf("secret leaked in JSON: %s", data)
	}

	var buf bytes.Buffer
	logger := common.NewWriterLogger(common.LogLevelDebug, &buf)
	logger.Info("bound", "credential", src.Credential)
	if strings.Contains(buf.String(), testToken) {
		t.Errorf("secret leaked in log: %s", buf.String())
	}

	if (Secret{}).String() != "" {
		t.Error("zero secret should render empty")
	}
}

func TestTopology_Snapshot(t *testing.T) {
	topo, b := newBinder(t, prodEnv)
	mustAttach(t, b, StageSource, sourceSpec())
	mustAttach(t, b, StageBuild, buildSpec())
	mustAttach(t, b, StageApproval, ActionSpec{Name: "Approve", Kind: KindApproval})
	mustAttach(t, b, StageDeploy, deploySpec())
	if err := b.Finalize(); err != nil {
		t.Fatal(err)
	}

	snap := topo.Snapshot()
	if snap.ID != topo.ID() || !snap.Finalized || len(snap.Stages) != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Stages[0].Actions[0].CredentialRef != "github-token" {
		t.Errorf("credential ref missing from snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte(testToken)) {
		t.Errorf("secret leaked in snapshot JSON")
	}
	if !bytes.Contains(data, []byte(`"kind":"Approval"`)) {
		t.Errorf("kinds should marshal as names: %s", data)
	}
}
