package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/retry"
	"github.com/loykin/deploypipe/internal/util"
	"github.com/loykin/deploypipe/pkg/runner"
)

// Job states reported by the execution service.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// ArtifactRef locates an artifact directory for the execution service.
type ArtifactRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Job is the payload posted for each Build or Deploy action.
type Job struct {
	RunID    string            `json:"run_id,omitempty"`
	Stage    string            `json:"stage"`
	Action   string            `json:"action"`
	Kind     string            `json:"kind"`
	SpecFile string            `json:"spec_file,omitempty"`
	Inputs   []ArtifactRef     `json:"inputs"`
	Outputs  []ArtifactRef     `json:"outputs"`
	Params   map[string]string `json:"params,omitempty"`
}

// JobResult is the execution service's answer.
type JobResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ExecutionFailedError reports an action the execution service ran and
// marked failed, or refused with a client error.
type ExecutionFailedError struct {
	Action     string
	StatusCode int
	Message    string
}

func (e *ExecutionFailedError) Error() string {
	msg := util.TrimWithDefault(e.Message, "no detail")
	if e.StatusCode >= 300 {
		return fmt.Sprintf("action %s: execution service returned %d: %s", e.Action, e.StatusCode, msg)
	}
	return fmt.Sprintf("action %s failed: %s", e.Action, msg)
}

// RemoteExecutor hands each action to an external execution service and
// waits for its verdict. Output artifact directories are created before the
// job is posted so the service can write into them.
type RemoteExecutor struct {
	Endpoint  string
	Workspace *Workspace
	client    *resty.Client
	retry     *retry.Config
}

func NewRemoteExecutor(endpoint string, ws *Workspace, opts httpc.Options) (*RemoteExecutor, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("executor endpoint is empty")
	}
	return &RemoteExecutor{
		Endpoint:  endpoint,
		Workspace: ws,
		client:    httpc.New(opts),
		retry:     retry.DefaultHTTPConfig(),
	}, nil
}

func (e *RemoteExecutor) job(req runner.ExecRequest) (Job, error) {
	j := Job{
		RunID:    req.RunID,
		Stage:    req.Stage,
		Action:   req.Action,
		Kind:     req.Kind.String(),
		SpecFile: req.SpecFile,
		Inputs:   make([]ArtifactRef, 0, len(req.Inputs)),
		Outputs:  make([]ArtifactRef, 0, len(req.Outputs)),
		Params:   req.Params,
	}
	for _, in := range req.Inputs {
		dir, err := e.Workspace.ArtifactDir(in)
		if err != nil {
			return Job{}, err
		}
		j.Inputs = append(j.Inputs, ArtifactRef{ID: in, Path: dir})
	}
	for _, out := range req.Outputs {
		dir, err := e.Workspace.ensureArtifact(out)
		if err != nil {
			return Job{}, err
		}
		j.Outputs = append(j.Outputs, ArtifactRef{ID: out, Path: dir})
	}
	return j, nil
}

func (e *RemoteExecutor) Execute(ctx context.Context, req runner.ExecRequest) error {
	j, err := e.job(req)
	if err != nil {
		return err
	}
	logger := common.GetLogger().WithComponent("executor").WithStage(req.Stage).WithRequest("POST", e.Endpoint)

	var result JobResult
	err = retry.WithRetry(ctx, e.retry, func() error {
		result = JobResult{}
		resp, err := e.client.R().SetContext(ctx).SetBody(j).SetResult(&result).Post(e.Endpoint)
		if err != nil {
			return retry.Transient(err)
		}
		switch code := resp.StatusCode(); {
		case code >= 500 || code == 429:
			return retry.Transient(fmt.Errorf("execute %s: status %d", req.Action, code))
		case code >= 300:
			return &ExecutionFailedError{Action: req.Action, StatusCode: code, Message: strings.TrimSpace(resp.String())}
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch strings.ToLower(result.Status) {
	case JobSucceeded:
		logger.Info("action executed", "action", req.Action, "outputs", req.Outputs)
		return nil
	case JobFailed:
		return &ExecutionFailedError{Action: req.Action, Message: result.Message}
	default:
		return fmt.Errorf("action %s: unexpected job status %q", req.Action, result.Status)
	}
}
