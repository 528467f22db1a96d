package topology

import (
	"maps"
	"slices"
	"time"

	"github.com/loykin/deploypipe/pkg/environment"
)

// Snapshot is a serialisable view of a topology. Credentials appear only by reference.
type Snapshot struct {
	ID          string                 `json:"id" yaml:"id"`
	Environment environment.Descriptor `json:"environment" yaml:"environment"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	Finalized   bool                   `json:"finalized" yaml:"finalized"`
	Stages      []StageSnapshot        `json:"stages" yaml:"stages"`
	Artifacts   []ArtifactSnapshot     `json:"artifacts" yaml:"artifacts"`
}

type StageSnapshot struct {
	Name      string           `json:"name" yaml:"name"`
	Kind      Kind             `json:"kind" yaml:"kind"`
	Order     int              `json:"order" yaml:"order"`
	Preceding string           `json:"preceding,omitempty" yaml:"preceding,omitempty"`
	Actions   []ActionSnapshot `json:"actions" yaml:"actions"`
}

type ActionSnapshot struct {
	Name          string            `json:"name" yaml:"name"`
	Kind          Kind              `json:"kind" yaml:"kind"`
	RunOrder      int               `json:"run_order" yaml:"run_order"`
	Inputs        []string          `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs       []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Params        map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	CredentialRef string            `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
}

type ArtifactSnapshot struct {
	ID         string `json:"id" yaml:"id"`
	State      string `json:"state" yaml:"state"`
	ProducedBy string `json:"produced_by,omitempty" yaml:"produced_by,omitempty"`
}

// Snapshot captures the current state of t.
func (t *Topology) Snapshot() Snapshot {
	s := Snapshot{
		ID:          t.id,
		Environment: t.env,
		CreatedAt:   t.createdAt,
		Finalized:   t.finalized,
		Artifacts:   t.Artifacts(),
	}
	for _, st := range t.stages {
		ss := StageSnapshot{
			Name:      string(st.Name),
			Kind:      st.Kind,
			Order:     st.Order,
			Preceding: string(st.Preceding),
			Actions:   []ActionSnapshot{},
		}
		for _, a := range t.ActionsIn(st.Name) {
			ss.Actions = append(ss.Actions, ActionSnapshot{
				Name:          a.Name,
				Kind:          a.Kind,
				RunOrder:      a.RunOrder,
				Inputs:        slices.Clone(a.Inputs),
				Outputs:       slices.Clone(a.Outputs),
				Params:        maps.Clone(a.Params),
				CredentialRef: a.Credential.Ref(),
			})
		}
		s.Stages = append(s.Stages, ss)
	}
	return s
}
