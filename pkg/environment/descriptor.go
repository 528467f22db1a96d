// Package environment describes deployment targets and the typed configuration they are built from.
package environment

import (
	"errors"
	"strings"
)

// Descriptor describes one deployment target.
//
// It is a value type. Builders copy it into the topology they produce, so a
// descriptor can never be mutated through a topology or shared between two of them.
type Descriptor struct {
	Name            string `json:"name" yaml:"name"`
	IsProduction    bool   `json:"is_production" yaml:"is_production"`
	Branch          string `json:"branch" yaml:"branch"`
	TestStage       string `json:"test_stage,omitempty" yaml:"test_stage"`
	ProductionStage string `json:"production_stage,omitempty" yaml:"production_stage"`
}

// RequiresApproval reports whether the human gate belongs in this environment's pipeline.
func (d Descriptor) RequiresApproval() bool {
	return d.IsProduction
}

// Validate checks the fields every topology needs.
func (d Descriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, &ConfigKeyError{Key: KeyEnv, Reason: ReasonMissing})
	}
	if strings.TrimSpace(d.Branch) == "" {
		errs = append(errs, &ConfigKeyError{Key: KeyBranch, Reason: ReasonMissing})
	}
	return errors.Join(errs...)
}
