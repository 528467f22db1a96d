package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/retry"
	"github.com/loykin/deploypipe/pkg/runner"
)

const (
	DefaultSourceAPI = "https://api.github.com"
	ArchiveFileName  = "source.tar.gz"
)

// ArchiveSource downloads a branch tarball from a GitHub-compatible API
// into the Source output artifact directory.
type ArchiveSource struct {
	BaseURL   string
	Workspace *Workspace
	client    *resty.Client
	retry     *retry.Config
}

func NewArchiveSource(baseURL string, ws *Workspace, opts httpc.Options) *ArchiveSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultSourceAPI
	}
	return &ArchiveSource{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Workspace: ws,
		client:    httpc.New(opts),
		retry:     retry.DefaultHTTPConfig(),
	}
}

func (s *ArchiveSource) archiveURL(req runner.SourceRequest) string {
	return fmt.Sprintf("%s/repos/%s/%s/tarball/%s", s.BaseURL,
		url.PathEscape(req.Owner), url.PathEscape(req.Repo), url.PathEscape(req.Branch))
}

func (s *ArchiveSource) Fetch(ctx context.Context, req runner.SourceRequest) error {
	if req.Owner == "" || req.Repo == "" {
		return fmt.Errorf("source requires owner and repo")
	}
	dir, err := s.Workspace.ensureArtifact(req.Output)
	if err != nil {
		return err
	}
	target := s.archiveURL(req)
	logger := common.GetLogger().WithComponent("source").WithArtifact(req.Output).WithRequest("GET", target)

	var body []byte
	err = retry.WithRetry(ctx, s.retry, func() error {
		r := s.client.R().SetContext(ctx)
		if !req.Credential.IsZero() {
			r.SetAuthToken(req.Credential.Reveal())
		}
		resp, err := r.Get(target)
		if err != nil {
			return retry.Transient(err)
		}
		switch code := resp.StatusCode(); {
		case code >= 500 || code == 429:
			return retry.Transient(fmt.Errorf("fetch source: status %d", code))
		case code >= 300:
			return fmt.Errorf("fetch source: status %d", code)
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return err
	}

	path := filepath.Join(dir, ArchiveFileName)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("write source archive: %w", err)
	}
	logger.Info("source fetched", "bytes", len(body), "path", path)
	return nil
}
