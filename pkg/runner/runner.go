// Package runner executes a finalized topology stage by stage against
// external collaborators.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/notify"
	"github.com/loykin/deploypipe/pkg/topology"
)

// Status is the outcome of a run or a stage.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusSkipped   Status = "skipped"
)

// RejectedError is returned when an approval gate is rejected. It is a
// terminal failure of the run.
type RejectedError struct {
	Stage   string
	Action  string
	Actor   string
	Comment string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("approval %s/%s rejected", e.Stage, e.Action)
	if e.Actor != "" {
		msg += " by " + e.Actor
	}
	if e.Comment != "" {
		msg += ": " + e.Comment
	}
	return msg
}

// StageResult records the outcome of one stage.
type StageResult struct {
	Stage      string    `json:"stage"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// RunRecord is the history entry of one execution.
type RunRecord struct {
	ID          string        `json:"id"`
	TopologyID  string        `json:"topology_id"`
	Environment string        `json:"environment"`
	Status      Status        `json:"status"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Stages      []StageResult `json:"stages"`
}

// Runner executes topologies. Nil Hub or Recorder disable notification and
// history respectively.
type Runner struct {
	Source   SourceFetcher
	Executor Executor
	Approver Approver
	Hub      *notify.Hub
	Recorder RunRecorder
}

// Run executes every stage of topo in order. Approval stages block on the
// Approver; a rejection ends the run with *RejectedError before any later
// stage is started.
func (r *Runner) Run(ctx context.Context, topo *topology.Topology) (*RunRecord, error) {
	if !topo.Finalized() {
		return nil, errors.New("topology must be finalized before it can run")
	}
	env := topo.Environment()
	rec := &RunRecord{
		ID:          uuid.NewString(),
		TopologyID:  topo.ID(),
		Environment: env.Name,
		StartedAt:   time.Now().UTC(),
	}
	logger := common.GetLogger().WithComponent("runner").WithTopology(topo.ID(), env.Name).WithRun(rec.ID)
	logger.Info("run started", "stages", topo.StageNames())

	var runErr error
	for _, st := range topo.Stages() {
		if runErr != nil {
			rec.Stages = append(rec.Stages, StageResult{Stage: string(st.Name), Status: StatusSkipped})
			continue
		}
		res := StageResult{Stage: string(st.Name), StartedAt: time.Now().UTC()}
		runErr = r.runStage(ctx, logger.WithStage(string(st.Name)), rec, topo, st)
		res.FinishedAt = time.Now().UTC()
		res.Status = statusOf(runErr)
		if runErr != nil {
			res.Error = runErr.Error()
			rec.FailedStage = res.Stage
		}
		rec.Stages = append(rec.Stages, res)
	}

	rec.FinishedAt = time.Now().UTC()
	rec.Status = statusOf(runErr)
	event := notify.EventSucceeded
	if runErr != nil {
		rec.Error = runErr.Error()
		event = notify.EventFailed
		logger.Error("run failed", "stage", rec.FailedStage, "error", runErr)
	} else {
		logger.Info("run succeeded", "duration", rec.FinishedAt.Sub(rec.StartedAt))
	}

	if r.Hub != nil {
		r.Hub.Publish(ctx, notify.Notification{
			TopologyID:  rec.TopologyID,
			Environment: rec.Environment,
			RunID:       rec.ID,
			Event:       event,
			Stage:       rec.FailedStage,
			Message:     rec.Error,
		})
	}
	if r.Recorder != nil {
		// The run outcome stands even when history cannot be written.
		if err := r.Recorder.RecordRun(context.WithoutCancel(ctx), *rec); err != nil {
			logger.Warn("failed to record run", "error", err)
		}
	}
	return rec, runErr
}

func statusOf(err error) Status {
	var rejected *RejectedError
	switch {
	case err == nil:
		return StatusSucceeded
	case errors.As(err, &rejected):
		return StatusRejected
	default:
		return StatusFailed
	}
}

func (r *Runner) runStage(ctx context.Context, logger *common.Logger, rec *RunRecord, topo *topology.Topology, st topology.StageSpec) error {
	for _, a := range topo.ActionsIn(st.Name) {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("action started", "action", a.Name, "kind", a.Kind.String())
		if err := r.runAction(ctx, rec, a); err != nil {
			return fmt.Errorf("action %s: %w", a.Name, err)
		}
		logger.Info("action completed", "action", a.Name)
	}
	return nil
}

func (r *Runner) runAction(ctx context.Context, rec *RunRecord, a topology.Action) error {
	switch a.Kind {
	case topology.KindSource:
		if r.Source == nil {
			return errors.New("no source fetcher configured")
		}
		return r.Source.Fetch(ctx, SourceRequest{
			Owner:      a.Params[ParamOwner],
			Repo:       a.Params[ParamRepo],
			Branch:     a.Params[topology.ParamBranch],
			Credential: a.Credential,
			Output:     a.Outputs[0],
		})
	case topology.KindBuild, topology.KindDeploy:
		if r.Executor == nil {
			return errors.New("no executor configured")
		}
		return r.Executor.Execute(ctx, ExecRequest{
			RunID:    rec.ID,
			Stage:    string(a.Stage),
			Action:   a.Name,
			Kind:     a.Kind,
			SpecFile: a.Params[ParamSpecFile],
			Inputs:   a.Inputs,
			Outputs:  a.Outputs,
			Params:   a.Params,
		})
	case topology.KindApproval:
		if r.Approver == nil {
			return errors.New("no approver configured")
		}
		d, err := r.Approver.RequestApproval(ctx, ApprovalRequest{
			RunID:        rec.ID,
			TopologyID:   rec.TopologyID,
			Environment:  rec.Environment,
			Stage:        string(a.Stage),
			Action:       a.Name,
			NotifyTarget: a.Params[topology.ParamNotifyURL],
		})
		if err != nil {
			return err
		}
		if !d.Approved {
			return &RejectedError{Stage: string(a.Stage), Action: a.Name, Actor: d.Actor, Comment: d.Comment}
		}
		return nil
	default:
		return fmt.Errorf("unsupported action kind %s", a.Kind)
	}
}
