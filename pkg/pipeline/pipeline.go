// Package pipeline wires the standard deployment pipeline: it builds the
// topology for an environment, binds the standard actions and attaches
// lifecycle notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/pkg/environment"
	"github.com/loykin/deploypipe/pkg/notify"
	"github.com/loykin/deploypipe/pkg/topology"
)

// Artifact ids threaded through the standard pipeline.
const (
	SourceOutput = "SourceOutput"
	BuildOutput  = "BuildOutput"
)

const (
	DefaultBuildSpec  = "buildspec.yml"
	DefaultDeploySpec = "deployspec.yml"
)

// Options configures the standard actions and their collaborators.
type Options struct {
	Owner      string
	Repo       string
	BuildSpec  string
	DeploySpec string

	Params  topology.ParameterStore
	Secrets topology.SecretsResolver

	// Hub receives the lifecycle subscription; a new hub is created when nil.
	Hub *notify.Hub
	// Events defaults to every lifecycle event.
	Events []notify.LifecycleEvent
	// Sinks are attached in addition to the one derived from NOTIFY_URL.
	Sinks []notify.Sink
	// TopicEndpoint publishes notify targets that are not http(s) URLs.
	TopicEndpoint string
	HTTP          httpc.Options
}

// Result is a constructed pipeline.
type Result struct {
	Topology *topology.Topology
	Hub      *notify.Hub
}

// Construct runs the whole construction flow for cfg.
func Construct(ctx context.Context, cfg environment.Config, opts Options) (*Result, error) {
	env := cfg.Descriptor()
	topo, err := topology.BuildTopology(env)
	if err != nil {
		return nil, err
	}
	logger := common.GetLogger().WithComponent("pipeline").WithTopology(topo.ID(), env.Name)

	binder := topology.NewBinder(topo, topology.Resolution{Config: cfg, Params: opts.Params, Secrets: opts.Secrets})
	for _, step := range standardActions(topo, opts) {
		if _, err := binder.Attach(ctx, step.stage, step.spec); err != nil {
			return nil, err
		}
	}
	if err := binder.Finalize(); err != nil {
		return nil, err
	}

	hub := opts.Hub
	if hub == nil {
		hub = notify.NewHub()
	}
	if err := attachNotifications(ctx, hub, topo, cfg, opts); err != nil {
		return nil, err
	}

	logger.Info("pipeline constructed",
		"stages", topo.StageNames(),
		"subscriptions", len(hub.Subscriptions(topo.ID())))
	return &Result{Topology: topo, Hub: hub}, nil
}

type step struct {
	stage topology.StageRef
	spec  topology.ActionSpec
}

func standardActions(topo *topology.Topology, opts Options) []step {
	buildSpec := opts.BuildSpec
	if buildSpec == "" {
		buildSpec = DefaultBuildSpec
	}
	deploySpec := opts.DeploySpec
	if deploySpec == "" {
		deploySpec = DefaultDeploySpec
	}

	steps := []step{
		{topology.StageSource, topology.ActionSpec{
			Name: "Checkout", Kind: topology.KindSource,
			Outputs: []string{SourceOutput},
			Params:  map[string]string{"owner": opts.Owner, "repo": opts.Repo},
		}},
		{topology.StageBuild, topology.ActionSpec{
			Name: "Build", Kind: topology.KindBuild,
			Inputs: []string{SourceOutput}, Outputs: []string{BuildOutput},
			Params: map[string]string{"spec": buildSpec},
		}},
	}
	// The approval stage only exists in environments that require it.
	if !topo.Stage(topology.StageApproval).IsAbsent() {
		steps = append(steps, step{topology.StageApproval, topology.ActionSpec{
			Name: "Approve", Kind: topology.KindApproval,
		}})
	}
	steps = append(steps, step{topology.StageDeploy, topology.ActionSpec{
		Name: "Deploy", Kind: topology.KindDeploy,
		Inputs: []string{BuildOutput},
		Params: map[string]string{"spec": deploySpec},
	}})
	return steps
}

func attachNotifications(ctx context.Context, hub *notify.Hub, topo *topology.Topology, cfg environment.Config, opts Options) error {
	events := opts.Events
	if len(events) == 0 {
		events = notify.AllEvents
	}
	sinks := append([]notify.Sink(nil), opts.Sinks...)
	if cfg.NotifyURL != "" {
		if opts.Params == nil {
			return &topology.ConfigResolutionError{Path: cfg.NotifyURL, Err: errors.New("no parameter store configured")}
		}
		target, err := opts.Params.Lookup(ctx, cfg.NotifyURL)
		if err != nil {
			return &topology.ConfigResolutionError{Path: cfg.NotifyURL, Err: err}
		}
		sinks = append(sinks, notify.SinkFromTarget(target, opts.TopicEndpoint, opts.HTTP))
	}
	for _, s := range sinks {
		if err := hub.Attach(topo.ID(), events, s); err != nil {
			return fmt.Errorf("attach notification sink: %w", err)
		}
	}
	return nil
}
