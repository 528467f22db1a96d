package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/deploypipe/cmd/deploypipe/config"
	"github.com/loykin/deploypipe/internal/approval"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/constants"
	"github.com/loykin/deploypipe/internal/util"
	"github.com/loykin/deploypipe/internal/workspace"
	"github.com/loykin/deploypipe/pkg/runner"
	"github.com/loykin/deploypipe/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	runAutoApprove  bool
	runAutoReject   bool
	runDryRun       bool
	runApprovalAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the pipeline and execute it stage by stage",
	Long: `Build the pipeline and execute it stage by stage.

Source downloads the branch archive into the workspace; Build and Deploy
actions are posted as jobs to pipeline.executor_url. --dry-run logs them
instead. Approval stages wait for a decision posted to the approval server
(POST /approvals/:id/approve or /reject with a bearer token from
"deploypipe approvals token") unless --auto-approve or --auto-reject is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runAutoApprove && runAutoReject {
			return errors.New("--auto-approve and --auto-reject are mutually exclusive")
		}
		doc, err := loadDoc()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := construct(ctx, doc)
		if err != nil {
			return err
		}
		r, cleanup, err := newRunner(ctx, doc, res.Topology)
		if err != nil {
			return err
		}
		defer cleanup()
		r.Hub = res.Hub

		rec, runErr := r.Run(ctx, res.Topology)
		if rec != nil {
			if err := renderRun(cmd.OutOrStdout(), *rec); err != nil {
				return err
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "approve every approval stage without waiting")
	runCmd.Flags().BoolVar(&runAutoReject, "auto-reject", false, "reject every approval stage without waiting")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log source and build/deploy actions instead of executing them")
	runCmd.Flags().StringVar(&runApprovalAddr, "approval-addr", "", "listen address of the approval server (overrides approval.addr)")
}

// newRunner wires collaborators for topo. cleanup closes the store and
// stops the approval server.
func newRunner(ctx context.Context, doc *config.ConfigDoc, topo *topology.Topology) (*runner.Runner, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	r := &runner.Runner{}

	if runDryRun {
		dry := workspace.DryRun{}
		r.Source, r.Executor = dry, dry
	} else {
		ws, err := workspace.New(doc.WorkspaceDir())
		if err != nil {
			return nil, cleanup, err
		}
		httpOpts, err := doc.HTTPOptions()
		if err != nil {
			return nil, cleanup, err
		}
		if _, ok := util.TrimEmptyCheck(doc.Pipeline.ExecutorURL); !ok {
			return nil, cleanup, errors.New("pipeline.executor_url is required unless --dry-run")
		}
		r.Source = workspace.NewArchiveSource(doc.Pipeline.SourceAPI, ws, httpOpts)
		if r.Executor, err = workspace.NewRemoteExecutor(doc.Pipeline.ExecutorURL, ws, httpOpts); err != nil {
			return nil, cleanup, err
		}
	}

	st, err := openStore(doc)
	if err != nil {
		return nil, cleanup, err
	}
	if st != nil {
		closers = append(closers, func() { _ = st.Close() })
		if err := st.SaveTopology(ctx, topo.Snapshot()); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		r.Recorder = st
	}

	approver, stopServer, err := newApprover(ctx, doc, topo)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, stopServer)
	r.Approver = approver
	return r, cleanup, nil
}

func newApprover(ctx context.Context, doc *config.ConfigDoc, topo *topology.Topology) (runner.Approver, func(), error) {
	switch {
	case runAutoApprove:
		return approval.Policy{Approve: true, Actor: "cli", Comment: "--auto-approve"}, func() {}, nil
	case runAutoReject:
		return approval.Policy{Approve: false, Actor: "cli", Comment: "--auto-reject"}, func() {}, nil
	case topo.Stage(topology.StageApproval).IsAbsent():
		return nil, func() {}, nil
	}

	secret := doc.ApprovalSecret()
	if secret == "" {
		return nil, nil, fmt.Errorf("approval.secret (or %s_APPROVAL_SECRET) is required to serve approvals", constants.EnvPrefix)
	}
	httpOpts, err := doc.HTTPOptions()
	if err != nil {
		return nil, nil, err
	}
	logger := common.GetLogger().WithComponent("approval")
	gate := approval.NewGate(approval.Options{
		HTTP: httpOpts,
		OnOpen: func(req approval.Request) {
			logger.Info("waiting for approval decision", "request", req.ID, "stage", req.Stage)
		},
	})
	handler := approval.NewHandler(gate, approval.VerifyConfig{
		Secret:        []byte(secret),
		AllowedIssuer: util.TrimWithDefault(doc.Approval.Issuer, constants.DefaultApprovalIssuer),
		ClockSkew:     30 * time.Second,
	})
	addr := util.TrimWithDefault(runApprovalAddr, util.TrimWithDefault(doc.Approval.Addr, constants.DefaultApprovalAddr))

	ln, err := approval.Listen(addr)
	if err != nil {
		return nil, nil, err
	}

	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := approval.Serve(srvCtx, ln, handler); err != nil {
			logger.Error("approval server stopped", "error", err)
		}
	}()
	return gate, func() { cancel(); <-done }, nil
}

func renderRun(w io.Writer, rec runner.RunRecord) error {
	fmt.Fprintf(w, "Run %s (%s) %s in %s\n", rec.ID, rec.Environment, rec.Status, rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tERROR")
	for _, s := range rec.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Stage, s.Status, dash(s.Error))
	}
	return tw.Flush()
}
