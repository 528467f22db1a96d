package topology

import (
	"fmt"
	"strings"
)

// Reasons carried by TopologyError.
const (
	ReasonDuplicateStage      = "duplicate stage name"
	ReasonUnresolvedPlacement = "placement references a stage that is not materialized"
	ReasonEmptyName           = "stage name must not be empty"
	ReasonInvalidKind         = "stage kind is not valid"
	ReasonNoStages            = "topology has no stages"
	ReasonNotLinear           = "stages do not form a single ordered chain"
	ReasonOrderMismatch       = "explicit stage order disagrees with placement graph"
	ReasonAbsentStage         = "stage is absent from the topology"
	ReasonEmptyStage          = "stage has no actions"
	ReasonTerminalKind        = "terminal stage must hold only deploy actions"
	ReasonFinalized           = "topology is finalized"
)

// TopologyError reports a malformed stage graph.
type TopologyError struct {
	Stage     string
	Reference string
	Reason    string
}

func (e *TopologyError) Error() string {
	var b strings.Builder
	b.WriteString("topology")
	if e.Stage != "" {
		fmt.Fprintf(&b, ": stage %q", e.Stage)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Reference != "" {
		fmt.Fprintf(&b, " (references %q)", e.Reference)
	}
	return b.String()
}

// StageKindMismatchError is returned when an action's kind differs from the
// semantic kind of the stage it is attached to.
type StageKindMismatchError struct {
	Stage      string
	StageKind  Kind
	Action     string
	ActionKind Kind
}

func (e *StageKindMismatchError) Error() string {
	return fmt.Sprintf("action %q of kind %s cannot be attached to stage %q of kind %s",
		e.Action, e.ActionKind, e.Stage, e.StageKind)
}

// InvalidActionError reports an action spec that violates its kind's shape.
type InvalidActionError struct {
	Stage  string
	Action string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %q in stage %q: %s", e.Action, e.Stage, e.Reason)
}

// BindError locates an artifact wiring failure. Err is an
// *artifact.NotReadyError or *artifact.AlreadyProducedError.
type BindError struct {
	Stage    string
	Action   string
	Artifact string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s/%s artifact %q: %v", e.Stage, e.Action, e.Artifact, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConfigResolutionError wraps a parameter store or secrets resolver failure
// with the path that failed. It never carries a resolved value.
type ConfigResolutionError struct {
	Path string
	Err  error
}

func (e *ConfigResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Path, e.Err)
}

func (e *ConfigResolutionError) Unwrap() error { return e.Err }
