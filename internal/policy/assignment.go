package policy

import "github.com/spec-kit/maintenance-service/internal/domain"

// AssignmentRules maps an assigning role to the roles it may put on a
// ticket. A role missing from the map may assign anyone.
type AssignmentRules map[domain.Role][]domain.Role

// DefaultAssignmentRules restricts coordinators to technicians.
func DefaultAssignmentRules() AssignmentRules {
	return AssignmentRules{
		domain.RoleCoordinator: {domain.RoleTechnician},
	}
}

// Policy carries the configurable parts of the permission matrix.
type Policy struct {
	assignable map[domain.Role]map[domain.Role]bool
}

// New builds a Policy. nil rules fall back to DefaultAssignmentRules.
func New(rules AssignmentRules) *Policy {
	if rules == nil {
		rules = DefaultAssignmentRules()
	}
	assignable := make(map[domain.Role]map[domain.Role]bool, len(rules))
	for actorRole, targets := range rules {
		set := make(map[domain.Role]bool, len(targets))
		for _, target := range targets {
			set[target] = true
		}
		assignable[actorRole] = set
	}
	return &Policy{assignable: assignable}
}

// CanAssign reports whether actorRole may assign a user holding targetRole.
// Only admin-tier roles assign at all.
func (p *Policy) CanAssign(actorRole, targetRole domain.Role) bool {
	if !IsAdminTier(actorRole) {
		return false
	}
	allowed, restricted := p.assignable[actorRole]
	if !restricted {
		return true
	}
	return allowed[targetRole]
}
