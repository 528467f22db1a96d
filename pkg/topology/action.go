package topology

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/artifact"
)

// Parameter names set by the binder on top of caller supplied ones.
const (
	ParamBranch        = "BRANCH"
	ParamTestStage     = "TEST_STAGE"
	ParamProdStage     = "PROD_STAGE"
	ParamReportURL     = "REPORT_URL"
	ParamNotifyURL     = "NOTIFY_URL"
	ParamCredentialRef = "CREDENTIAL_REF"
)

// ActionSpec is what a caller asks the binder to attach.
type ActionSpec struct {
	Name     string
	Kind     Kind
	Inputs   []string
	Outputs  []string
	RunOrder int
	// Params are opaque caller settings such as owner, repo or spec file.
	Params map[string]string
}

// Action is a bound action. Inputs and Outputs are artifact ids owned by the
// topology's registry.
type Action struct {
	Name       string
	Kind       Kind
	Stage      StageRef
	Inputs     []string
	Outputs    []string
	RunOrder   int
	Params     map[string]string
	Credential Secret
}

func (a *Action) clone() Action {
	c := *a
	c.Inputs = slices.Clone(a.Inputs)
	c.Outputs = slices.Clone(a.Outputs)
	c.Params = maps.Clone(a.Params)
	return c
}

func (a *Action) ref() artifact.ActionRef {
	return artifact.ActionRef{Stage: string(a.Stage), Action: a.Name}
}

// Param returns a parameter value.
func (a Action) Param(name string) (string, bool) {
	v, ok := a.Params[name]
	return v, ok
}

// Secret holds a resolved credential. Its value is only reachable through
// Reveal; formatting, JSON and slog all print a mask.
type Secret struct {
	ref   string
	value string
}

// NewSecret wraps a resolved value with the reference it came from.
func NewSecret(ref, value string) Secret {
	return Secret{ref: ref, value: value}
}

// Ref returns the reference the value was resolved from.
func (s Secret) Ref() string { return s.ref }

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return s.value }

// IsZero reports whether no secret is held.
func (s Secret) IsZero() bool { return s.ref == "" && s.value == "" }

func (s Secret) String() string {
	if s.IsZero() {
		return ""
	}
	return common.MaskedValue
}

func (s Secret) GoString() string { return "topology.Secret{" + s.String() + "}" }

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
