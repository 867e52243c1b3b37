package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// PolicyFile overrides the default permission settings.
//
//	assignment_rules:
//	  COORDINATOR: [TECHNICIAN]
//	  DEPARTMENT_HEAD: [TECHNICIAN, COORDINATOR]
type PolicyFile struct {
	AssignmentRules map[string][]string `yaml:"assignment_rules"`
}

// LoadPolicyFile reads a YAML policy file. An empty path yields nil, nil.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParsePolicyFile(data)
}

// ParsePolicyFile unmarshals and validates policy YAML.
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if err := pf.validate(); err != nil {
		return nil, err
	}
	return &pf, nil
}

func (p *PolicyFile) validate() error {
	var errs []string
	for actor, targets := range p.AssignmentRules {
		if !domain.Role(actor).Valid() {
			errs = append(errs, fmt.Sprintf("assignment_rules: unknown role %q", actor))
		}
		for i, target := range targets {
			if !domain.Role(target).Valid() {
				errs = append(errs, fmt.Sprintf("assignment_rules.%s[%d]: unknown role %q", actor, i, target))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Rules converts the file into role-keyed assignment rules. A nil file or
// an empty section yields nil so callers fall back to defaults.
func (p *PolicyFile) Rules() map[domain.Role][]domain.Role {
	if p == nil || len(p.AssignmentRules) == 0 {
		return nil
	}
	out := make(map[domain.Role][]domain.Role, len(p.AssignmentRules))
	for actor, targets := range p.AssignmentRules {
		roles := make([]domain.Role, 0, len(targets))
		for _, target := range targets {
			roles = append(roles, domain.Role(target))
		}
		out[domain.Role(actor)] = roles
	}
	return out
}
