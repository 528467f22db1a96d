package topology

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/artifact"
	"github.com/loykin/deploypipe/pkg/environment"
)

// ParameterStore resolves environment scoped, non-secret strings by path.
type ParameterStore interface {
	Lookup(ctx context.Context, path string) (string, error)
}

// SecretsResolver resolves a secret reference to its value.
type SecretsResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolution carries the configuration and collaborators the binder resolves
// environment parameters through.
type Resolution struct {
	Config  environment.Config
	Params  ParameterStore
	Secrets SecretsResolver
}

// ParamTargetStage names the deployment stage endpoint a Deploy action targets.
const ParamTargetStage = "TARGET_STAGE"

// Binder attaches actions to the stages of one topology.
type Binder struct {
	topo   *Topology
	res    Resolution
	logger *common.Logger
}

// NewBinder creates a binder for t.
func NewBinder(t *Topology, res Resolution) *Binder {
	return &Binder{
		topo:   t,
		res:    res,
		logger: common.GetLogger().WithComponent("binder").WithTopology(t.id, t.env.Name),
	}
}

type shape struct {
	minInputs, maxInputs   int
	minOutputs, maxOutputs int
}

// -1 means unbounded.
var shapes = map[Kind]shape{
	KindSource:   {0, 0, 1, 1},
	KindBuild:    {1, -1, 1, 1},
	KindApproval: {0, 0, 0, 0},
	KindDeploy:   {1, -1, 0, 0},
}

func (s shape) check(in, out int) string {
	if in < s.minInputs || (s.maxInputs >= 0 && in > s.maxInputs) {
		return fmt.Sprintf("takes %s inputs, got %d", bounds(s.minInputs, s.maxInputs), in)
	}
	if out < s.minOutputs || (s.maxOutputs >= 0 && out > s.maxOutputs) {
		return fmt.Sprintf("takes %s outputs, got %d", bounds(s.minOutputs, s.maxOutputs), out)
	}
	return ""
}

func bounds(lo, hi int) string {
	switch {
	case hi < 0:
		return fmt.Sprintf("at least %d", lo)
	case lo == hi:
		return fmt.Sprintf("exactly %d", lo)
	default:
		return fmt.Sprintf("%d to %d", lo, hi)
	}
}

// Attach validates spec against its stage, checks its artifact wiring,
// resolves its environment parameters, and marks its outputs produced. The
// parameter store and secrets resolver are only consulted once the wiring
// holds. A failed Attach leaves no action and no artifact behind.
func (b *Binder) Attach(ctx context.Context, stage StageRef, spec ActionSpec) (*Action, error) {
	if b.topo.finalized {
		return nil, &TopologyError{Stage: string(stage), Reason: ReasonFinalized}
	}
	st, ok := b.topo.Stage(stage).Get()
	if !ok {
		return nil, &TopologyError{Stage: string(stage), Reason: ReasonAbsentStage}
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, &InvalidActionError{Stage: string(stage), Action: spec.Name, Reason: "action name must not be empty"}
	}
	if !spec.Kind.Valid() {
		return nil, &InvalidActionError{Stage: string(stage), Action: name, Reason: "action kind is not valid"}
	}
	if spec.Kind != st.Kind {
		return nil, &StageKindMismatchError{Stage: string(stage), StageKind: st.Kind, Action: name, ActionKind: spec.Kind}
	}
	if b.topo.hasAction(stage, name) {
		return nil, &InvalidActionError{Stage: string(stage), Action: name, Reason: "duplicate action name in stage"}
	}
	inputs, err := normaliseIDs(spec.Inputs)
	if err != nil {
		return nil, &InvalidActionError{Stage: string(stage), Action: name, Reason: "inputs: " + err.Error()}
	}
	outputs, err := normaliseIDs(spec.Outputs)
	if err != nil {
		return nil, &InvalidActionError{Stage: string(stage), Action: name, Reason: "outputs: " + err.Error()}
	}
	if reason := shapes[spec.Kind].check(len(inputs), len(outputs)); reason != "" {
		return nil, &InvalidActionError{Stage: string(stage), Action: name, Reason: fmt.Sprintf("%s action %s", spec.Kind, reason)}
	}

	action := &Action{
		Name:     name,
		Kind:     spec.Kind,
		Stage:    stage,
		Inputs:   inputs,
		Outputs:  outputs,
		RunOrder: spec.RunOrder,
		Params:   maps.Clone(spec.Params),
	}
	if action.RunOrder <= 0 {
		action.RunOrder = 1
	}
	if action.Params == nil {
		action.Params = map[string]string{}
	}

	if err := b.checkWiring(action); err != nil {
		return nil, err
	}
	if err := b.resolve(ctx, action); err != nil {
		return nil, err
	}
	if err := b.produce(action); err != nil {
		return nil, err
	}

	b.topo.actions = append(b.topo.actions, action)
	b.logger.WithStage(string(stage)).Debug("action attached",
		"action", name, "kind", spec.Kind.String(), "inputs", inputs, "outputs", outputs)
	return action, nil
}

// resolve fills the environment scoped parameters of a.
func (b *Binder) resolve(ctx context.Context, a *Action) error {
	env := b.topo.env
	cfg := b.res.Config

	switch a.Kind {
	case KindSource:
		a.Params[ParamBranch] = env.Branch
		secret, err := b.resolveSecret(ctx, cfg.CredentialRef)
		if err != nil {
			return err
		}
		a.Credential = secret
	case KindBuild:
		a.Params[ParamBranch] = env.Branch
		setIfNotEmpty(a.Params, ParamTestStage, env.TestStage)
		setIfNotEmpty(a.Params, ParamProdStage, env.ProductionStage)
		if cfg.ReportURL != "" {
			v, err := b.lookup(ctx, cfg.ReportURL)
			if err != nil {
				return err
			}
			a.Params[ParamReportURL] = v
		}
	case KindApproval:
		if cfg.NotifyURL != "" {
			v, err := b.lookup(ctx, cfg.NotifyURL)
			if err != nil {
				return err
			}
			a.Params[ParamNotifyURL] = v
		}
	case KindDeploy:
		target := env.TestStage
		if env.IsProduction {
			target = env.ProductionStage
		}
		setIfNotEmpty(a.Params, ParamTargetStage, target)
	}
	return nil
}

func (b *Binder) lookup(ctx context.Context, path string) (string, error) {
	if b.res.Params == nil {
		return "", &ConfigResolutionError{Path: path, Err: errors.New("no parameter store configured")}
	}
	v, err := b.res.Params.Lookup(ctx, path)
	if err != nil {
		return "", &ConfigResolutionError{Path: path, Err: err}
	}
	return v, nil
}

func (b *Binder) resolveSecret(ctx context.Context, ref string) (Secret, error) {
	if ref == "" {
		return Secret{}, &ConfigResolutionError{Path: ParamCredentialRef, Err: errors.New("no credential reference configured")}
	}
	if b.res.Secrets == nil {
		return Secret{}, &ConfigResolutionError{Path: ref, Err: errors.New("no secrets resolver configured")}
	}
	v, err := b.res.Secrets.Resolve(ctx, ref)
	if err != nil {
		return Secret{}, &ConfigResolutionError{Path: ref, Err: err}
	}
	return NewSecret(ref, v), nil
}

// checkWiring verifies every input was produced earlier and that no output
// belongs to another producer. It does not touch the registry.
func (b *Binder) checkWiring(a *Action) error {
	reg := b.topo.registry
	producer := a.ref()

	for _, id := range a.Inputs {
		h, ok := reg.Lookup(id)
		if !ok {
			return &BindError{Stage: string(a.Stage), Action: a.Name, Artifact: id, Err: &artifact.NotReadyError{Artifact: id}}
		}
		if _, err := reg.ResolveForConsumption(h); err != nil {
			return &BindError{Stage: string(a.Stage), Action: a.Name, Artifact: id, Err: err}
		}
	}
	for _, id := range a.Outputs {
		h, ok := reg.Lookup(id)
		if !ok {
			continue
		}
		if p, ok := h.ProducedBy(); ok && p != producer {
			return &BindError{Stage: string(a.Stage), Action: a.Name, Artifact: id,
				Err: &artifact.AlreadyProducedError{Artifact: id, Existing: p, Producer: producer}}
		}
	}
	return nil
}

// produce declares and marks every output of a checked action.
func (b *Binder) produce(a *Action) error {
	reg := b.topo.registry
	producer := a.ref()
	for _, id := range a.Outputs {
		h, err := reg.Declare(id)
		if err == nil {
			err = reg.MarkProduced(h, producer)
		}
		if err != nil {
			return &BindError{Stage: string(a.Stage), Action: a.Name, Artifact: id, Err: err}
		}
		b.logger.WithArtifact(id).Debug("artifact produced", "producer", producer.String())
	}
	return nil
}

// Finalize checks that every stage holds an action and that the terminal stage
// holds only Deploy actions. After it succeeds no more actions can be attached.
func (b *Binder) Finalize() error {
	t := b.topo
	for _, st := range t.stages {
		if len(t.ActionsIn(st.Name)) == 0 {
			return &TopologyError{Stage: string(st.Name), Reason: ReasonEmptyStage}
		}
	}
	term := t.Terminal()
	if term.Kind != KindDeploy {
		return &TopologyError{Stage: string(term.Name), Reason: ReasonTerminalKind}
	}
	for _, a := range t.ActionsIn(term.Name) {
		if a.Kind != KindDeploy {
			return &TopologyError{Stage: string(term.Name), Reference: a.Name, Reason: ReasonTerminalKind}
		}
	}
	t.finalized = true
	b.logger.Info("topology finalized", "stages", t.StageNames(), "actions", len(t.actions))
	return nil
}

func normaliseIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("artifact id must not be empty")
		}
		if slices.Contains(out, id) {
			return nil, fmt.Errorf("artifact %q listed twice", id)
		}
		out = append(out, id)
	}
	return out, nil
}

func setIfNotEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
