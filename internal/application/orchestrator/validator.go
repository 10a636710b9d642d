package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/aescanero/dagplan/pkg/domain"
)

var nodeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validator checks execution requests and graph descriptions before a run
// is admitted. Structural graph errors (cycles, unknown references) are
// caught later by graph construction; this covers everything cheaper.
type Validator struct{}

// NewValidator creates a request validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRequest checks the run request fields.
func (v *Validator) ValidateRequest(req *domain.ExecutionRequest) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if req.Project == "" {
		return fmt.Errorf("project is required")
	}
	if req.Request == "" {
		return fmt.Errorf("request text is required")
	}
	for _, seed := range req.Seeds {
		if seed.Node == "" {
			return fmt.Errorf("seed node name is required")
		}
	}
	return nil
}

// ValidateSpecs checks the submitted graph description records.
func (v *Validator) ValidateSpecs(specs []domain.NodeSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("graph must have at least one node")
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("node name is required")
		}
		if !nodeNamePattern.MatchString(spec.Name) {
			return fmt.Errorf("invalid node name %q", spec.Name)
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate node: %s", spec.Name)
		}
		seen[spec.Name] = true

		for _, dep := range spec.Deps {
			if dep == spec.Name {
				return fmt.Errorf("node %s depends on itself", spec.Name)
			}
		}
	}
	return nil
}
