// Package approval holds pipeline runs at their Approval stage until a
// human decides, either over HTTP or through a fixed policy.
package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/retry"
	"github.com/loykin/deploypipe/pkg/runner"
)

// ErrUnknownRequest is returned when deciding a request that is not pending.
var ErrUnknownRequest = errors.New("approval request not pending")

// Request is a pending approval as exposed to deciders.
type Request struct {
	ID string `json:"id"`
	runner.ApprovalRequest
	OpenedAt time.Time `json:"opened_at"`
}

type pending struct {
	req Request
	ch  chan runner.Decision
}

// Options configure a Gate.
type Options struct {
	// HTTP configures the client used to announce requests to http(s) notify targets.
	HTTP httpc.Options
	// OnOpen is called after a request is registered and announced.
	OnOpen func(Request)
}

// Gate implements runner.Approver. Each RequestApproval call blocks until
// Decide is called for its id or the context ends.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pending
	client  *resty.Client
	onOpen  func(Request)
	logger  *common.Logger
}

func NewGate(opts Options) *Gate {
	return &Gate{
		pending: make(map[string]*pending),
		client:  httpc.New(opts.HTTP),
		onOpen:  opts.OnOpen,
		logger:  common.GetLogger().WithComponent("approval"),
	}
}

// RequestApproval registers req and waits for a decision.
func (g *Gate) RequestApproval(ctx context.Context, req runner.ApprovalRequest) (runner.Decision, error) {
	p := &pending{
		req: Request{ID: uuid.NewString(), ApprovalRequest: req, OpenedAt: time.Now().UTC()},
		ch:  make(chan runner.Decision, 1),
	}
	g.mu.Lock()
	g.pending[p.req.ID] = p
	g.mu.Unlock()
	defer g.remove(p.req.ID)

	log := g.logger.WithRun(req.RunID).WithStage(req.Stage)
	log.Info("approval requested", "request", p.req.ID, "action", req.Action, "environment", req.Environment)
	if err := g.announce(ctx, p.req); err != nil {
		log.Warn("failed to announce approval request", "error", err, "target", req.NotifyTarget)
	}
	if g.onOpen != nil {
		g.onOpen(p.req)
	}

	select {
	case d := <-p.ch:
		log.Info("approval decided", "request", p.req.ID, "approved", d.Approved, "actor", d.Actor)
		return d, nil
	case <-ctx.Done():
		log.Warn("approval wait cancelled", "request", p.req.ID, "error", ctx.Err())
		return runner.Decision{}, fmt.Errorf("waiting for approval %s: %w", p.req.ID, ctx.Err())
	}
}

func (g *Gate) remove(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

// Pending lists open requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	g.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Get returns the pending request with id.
func (g *Gate) Get(id string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

// Decide resolves a pending request. Only the first decision counts.
func (g *Gate) Decide(id string, approved bool, actor, comment string) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	p.ch <- runner.Decision{Approved: approved, Actor: actor, Comment: comment, At: time.Now().UTC()}
	return nil
}

// announce posts the request to an http(s) notify target. Other targets
// are only logged.
func (g *Gate) announce(ctx context.Context, req Request) error {
	target := strings.TrimSpace(req.NotifyTarget)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return nil
	}
	cfg := retry.DefaultHTTPConfig()
	return retry.WithRetry(ctx, cfg, func() error {
		resp, err := g.client.R().SetContext(ctx).SetBody(map[string]any{
			"text":    fmt.Sprintf("Approval required for %s (%s) at stage %s: request %s", req.TopologyID, req.Environment, req.Stage, req.ID),
			"request": req,
		}).Post(target)
		if err != nil {
			return retry.Transient(err)
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return retry.Transient(fmt.Errorf("announce: status %d", resp.StatusCode()))
		}
		if resp.StatusCode() >= 300 {
			return fmt.Errorf("announce: status %d", resp.StatusCode())
		}
		return nil
	})
}

// Policy is a runner.Approver that decides every request the same way.
type Policy struct {
	Approve bool
	Actor   string
	Comment string
}

func (p Policy) RequestApproval(ctx context.Context, req runner.ApprovalRequest) (runner.Decision, error) {
	if err := ctx.Err(); err != nil {
		return runner.Decision{}, err
	}
	actor := p.Actor
	if actor == "" {
		actor = "policy"
	}
	common.GetLogger().WithComponent("approval").WithRun(req.RunID).
		Info("approval decided by policy", "stage", req.Stage, "approved", p.Approve)
	return runner.Decision{Approved: p.Approve, Actor: actor, Comment: p.Comment, At: time.Now().UTC()}, nil
}
