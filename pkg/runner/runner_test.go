package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/loykin/deploypipe/pkg/environment"
	"github.com/loykin/deploypipe/pkg/notify"
	"github.com/loykin/deploypipe/pkg/pipeline"
	"github.com/loykin/deploypipe/pkg/topology"
)

type mapParams map[string]string

func (m mapParams) Lookup(_ context.Context, path string) (string, error) {
	if v, ok := m[path]; ok {
		return v, nil
	}
	return "", fmt.Errorf("parameter %s not found", path)
}

type staticSecrets string

func (s staticSecrets) Resolve(context.Context, string) (string, error) { return string(s), nil }

// recorder captures every collaborator call in order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	decision Decision
	execErr  map[string]error
	runs     []RunRecord
	sources  []SourceRequest
}

func (r *recorder) log(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) Fetch(_ context.Context, req SourceRequest) error {
	r.log("fetch:" + req.Output)
	r.sources = append(r.sources, req)
	return nil
}

func (r *recorder) Execute(_ context.Context, req ExecRequest) error {
	r.log(fmt.Sprintf("exec:%s/%s", req.Stage, req.Action))
	return r.execErr[req.Stage]
}

func (r *recorder) RequestApproval(_ context.Context, req ApprovalRequest) (Decision, error) {
	r.log("approve:" + req.NotifyTarget)
	return r.decision, nil
}

func (r *recorder) RecordRun(_ context.Context, rec RunRecord) error {
	r.runs = append(r.runs, rec)
	return nil
}

type countingSink struct {
	mu     sync.Mutex
	events []notify.Notification
}

func (s *countingSink) Key() string { return "counting" }

func (s *countingSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	s.events = append(s.events, n)
	s.mu.Unlock()
	return nil
}

func construct(t *testing.T, env string, sink notify.Sink) *pipeline.Result {
	t.Helper()
	cfg := environment.Config{Env: env, Branch: "main", ProdStage: "live", NotifyURL: "/notify", CredentialRef: "token"}
	res, err := pipeline.Construct(context.Background(), cfg, pipeline.Options{
		Owner:   "loykin",
		Repo:    "service",
		Params:  mapParams{"/notify": "arn:topic:approvals"},
		Secrets: staticSecrets("s3cr3t"),
		Sinks:   []notify.Sink{sink},
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	return res
}

func newRunner(rec *recorder, hub *notify.Hub) *Runner {
	return &Runner{Source: rec, Executor: rec, Approver: rec, Hub: hub, Recorder: rec}
}

func TestRun_ProdApproved(t *testing.T) {
	sink := &countingSink{}
	res := construct(t, "prod", sink)
	rec := &recorder{decision: Decision{Approved: true, Actor: "alice"}}

	run, err := newRunner(rec, res.Hub).Run(context.Background(), res.Topology)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"fetch:SourceOutput", "exec:Build/Build", "approve:arn:topic:approvals", "exec:Deploy/Deploy"}
	if fmt.Sprint(rec.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
	if run.Status != StatusSucceeded || len(run.Stages) != 4 {
		t.Errorf("run = %+v", run)
	}
	if rec.sources[0].Credential.Reveal() != "s3cr3t" || rec.sources[0].Owner != "loykin" || rec.sources[0].Branch != "main" {
		t.Errorf("source request = %+v", rec.sources[0])
	}
	if len(sink.events) != 1 || sink.events[0].Event != notify.EventSucceeded || sink.events[0].RunID != run.ID {
		t.Errorf("notifications = %+v", sink.events)
	}
	if len(rec.runs) != 1 || rec.runs[0].ID != run.ID {
		t.Errorf("recorded runs = %+v", rec.runs)
	}
}

func TestRun_RejectHaltsBeforeDeploy(t *testing.T) {
	sink := &countingSink{}
	res := construct(t, "prod", sink)
	rec := &recorder{decision: Decision{Approved: false, Actor: "bob", Comment: "not today"}}

	run, err := newRunner(rec, res.Hub).Run(context.Background(), res.Topology)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Actor != "bob" || rejected.Stage != "Approval" {
		t.Errorf("rejected = %+v", rejected)
	}
	for _, c := range rec.calls {
		if c == "exec:Deploy/Deploy" {
			t.Fatal("deploy action invoked after rejection")
		}
	}
	if run.Status != StatusRejected || run.FailedStage != "Approval" {
		t.Errorf("run = %+v", run)
	}
	if last := run.Stages[len(run.Stages)-1]; last.Stage != "Deploy" || last.Status != StatusSkipped {
		t.Errorf("deploy stage result = %+v", last)
	}
	if len(sink.events) != 1 || sink.events[0].Event != notify.EventFailed || sink.events[0].Stage != "Approval" {
		t.Errorf("notifications = %+v", sink.events)
	}
}

func TestRun_DevSkipsApproval(t *testing.T) {
	res := construct(t, "dev", &countingSink{})
	rec := &recorder{}

	run, err := newRunner(rec, nil).Run(context.Background(), res.Topology)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range rec.calls {
		if len(c) >= 8 && c[:8] == "approve:" {
			t.Fatal("dev run asked for approval")
		}
	}
	if len(run.Stages) != 3 {
		t.Errorf("stages = %+v", run.Stages)
	}
}

func TestRun_BuildFailure(t *testing.T) {
	res := construct(t, "dev", &countingSink{})
	rec := &recorder{execErr: map[string]error{"Build": errors.New("compile error")}}

	run, err := newRunner(rec, res.Hub).Run(context.Background(), res.Topology)
	if err == nil {
		t.Fatal("expected failure")
	}
	if run.Status != StatusFailed || run.FailedStage != "Build" {
		t.Errorf("run = %+v", run)
	}
	if len(rec.calls) != 2 {
		t.Errorf("calls after failure = %v", rec.calls)
	}
}

func TestRun_RequiresFinalizedTopology(t *testing.T) {
	topo, err := topology.BuildTopology(environment.Descriptor{Name: "dev", Branch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&Runner{}).Run(context.Background(), topo); err == nil {
		t.Fatal("expected error for unfinalized topology")
	}
}

func TestRun_MissingCollaborator(t *testing.T) {
	res := construct(t, "dev", &countingSink{})
	_, err := (&Runner{}).Run(context.Background(), res.Topology)
	if err == nil {
		t.Fatal("expected error without source fetcher")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	res := construct(t, "dev", &countingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	_, err := newRunner(rec, nil).Run(ctx, res.Topology)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("calls = %v", rec.calls)
	}
}
