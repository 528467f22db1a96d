package topology

import (
	"fmt"
	"strings"
)

// Kind is the semantic role of a stage and of the actions it may hold.
type Kind int

const (
	KindSource Kind = iota + 1
	KindBuild
	KindApproval
	KindDeploy
)

// Standard stage names.
const (
	StageSource   StageRef = "Source"
	StageBuild    StageRef = "Build"
	StageApproval StageRef = "Approval"
	StageDeploy   StageRef = "Deploy"
)

var kindNames = map[Kind]string{
	KindSource:   "Source",
	KindBuild:    "Build",
	KindApproval: "Approval",
	KindDeploy:   "Deploy",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
