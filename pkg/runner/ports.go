package runner

import (
	"context"
	"time"

	"github.com/loykin/deploypipe/pkg/topology"
)

// Well-known caller parameters read from bound actions.
const (
	ParamOwner    = "owner"
	ParamRepo     = "repo"
	ParamSpecFile = "spec"
)

// SourceRequest asks the source collaborator to produce the Source output.
type SourceRequest struct {
	Owner      string
	Repo       string
	Branch     string
	Credential topology.Secret
	Output     string
}

// SourceFetcher produces the Source output artifact.
type SourceFetcher interface {
	Fetch(ctx context.Context, req SourceRequest) error
}

// ExecRequest asks the build/deploy collaborator to run one action.
type ExecRequest struct {
	RunID    string
	Stage    string
	Action   string
	Kind     topology.Kind
	SpecFile string
	Inputs   []string
	Outputs  []string
	Params   map[string]string
}

// Executor hands Build and Deploy actions to the execution collaborator.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) error
}

// ApprovalRequest describes one pending human decision.
type ApprovalRequest struct {
	RunID        string `json:"run_id"`
	TopologyID   string `json:"topology_id"`
	Environment  string `json:"environment"`
	Stage        string `json:"stage"`
	Action       string `json:"action"`
	NotifyTarget string `json:"notify_target,omitempty"`
}

// Decision is the outcome of an approval request.
type Decision struct {
	Approved bool      `json:"approved"`
	Actor    string    `json:"actor,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	At       time.Time `json:"at"`
}

// Approver blocks until an external actor decides. The runner imposes no timeout.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}
