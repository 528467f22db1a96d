// Package workspace provides the runner's collaborators: a source fetcher
// that downloads repository archives and an executor that hands build and
// deploy actions to an external execution service. Each artifact is a
// directory under the workspace root.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/runner"
)

var artifactNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Workspace is a directory holding one sub-directory per artifact.
type Workspace struct {
	Root string
}

// New creates root if needed.
func New(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Root: abs}, nil
}

// ArtifactDir returns the directory of an artifact id, rejecting ids that
// would escape the workspace.
func (w *Workspace) ArtifactDir(id string) (string, error) {
	if !artifactNameRe.MatchString(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	return filepath.Join(w.Root, id), nil
}

func (w *Workspace) ensureArtifact(id string) (string, error) {
	dir, err := w.ArtifactDir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// DryRun satisfies runner.SourceFetcher and runner.Executor by logging each
// request without side effects.
type DryRun struct {
	Logger *common.Logger
}

func (d DryRun) logger() *common.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return common.GetLogger().WithComponent("dry-run")
}

func (d DryRun) Fetch(ctx context.Context, req runner.SourceRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger().Info("would fetch source",
		"owner", req.Owner, "repo", req.Repo, "branch", req.Branch,
		"credential", req.Credential, "output", req.Output)
	return nil
}

func (d DryRun) Execute(ctx context.Context, req runner.ExecRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger().Info("would execute action",
		"stage", req.Stage, "action", req.Action, "spec", req.SpecFile,
		"inputs", req.Inputs, "outputs", req.Outputs)
	return nil
}
