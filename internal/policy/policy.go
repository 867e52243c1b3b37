// Package policy decides who may do what to a ticket. Everything here is
// pure: callers resolve authorization before touching the store.
package policy

import (
	"errors"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

var (
	ErrRoleNotAllowed     = errors.New("role not allowed for this operation")
	ErrNotCreator         = errors.New("ticket belongs to another user")
	ErrNotAssignee        = errors.New("not assigned to this ticket")
	ErrClientEditLocked   = errors.New("ticket can no longer be edited")
	ErrManagementFields   = errors.New("administrative fields require a management role")
	ErrClientValidateOnly = errors.New("tickets can only be validated once marked RESOLVED")
	ErrClientTarget       = errors.New("clients may only CLOSE or REJECT a resolved ticket")
	ErrTechnicianClose    = errors.New("only the client or a supervisor can close this ticket")
	ErrNotYetAssigned     = errors.New("ticket must be assigned before work starts")
)

// IsAdminTier reports roles with cross-cutting management privilege.
func IsAdminTier(role domain.Role) bool {
	switch role {
	case domain.RoleSuperAdmin, domain.RoleDepartmentHead, domain.RoleCoordinator:
		return true
	}
	return false
}

// AdminTierRoles lists the management roles.
func AdminTierRoles() []domain.Role {
	return []domain.Role{domain.RoleSuperAdmin, domain.RoleDepartmentHead, domain.RoleCoordinator}
}

func IsTechnician(role domain.Role) bool {
	return role == domain.RoleTechnician
}

func IsInternalClient(role domain.Role) bool {
	return role == domain.RoleInternalClient
}

func IsCreator(actor domain.Actor, ticket *domain.Ticket) bool {
	return ticket != nil && ticket.CreatorID == actor.ID
}

func IsAssignee(actor domain.Actor, ticket *domain.Ticket) bool {
	return ticket != nil && ticket.HasAssignee(actor.ID)
}

// CanCreate reports whether the role may open tickets at all.
func CanCreate(role domain.Role) bool {
	return IsAdminTier(role) || IsInternalClient(role)
}

// CanView reports read access to a single ticket.
func CanView(actor domain.Actor, ticket *domain.Ticket) bool {
	switch {
	case IsAdminTier(actor.Role):
		return true
	case IsTechnician(actor.Role):
		return IsAssignee(actor, ticket)
	case IsInternalClient(actor.Role):
		return IsCreator(actor, ticket)
	}
	return false
}

// AuthorizeUpdate checks row-level edit rights. touchesManagement is true
// when the patch carries assignees, priority or due date.
func AuthorizeUpdate(actor domain.Actor, ticket *domain.Ticket, touchesManagement bool) error {
	switch {
	case IsAdminTier(actor.Role):
		return nil
	case IsInternalClient(actor.Role):
		if !IsCreator(actor, ticket) {
			return ErrNotCreator
		}
		if ticket.Status != domain.TicketStatusPending {
			return ErrClientEditLocked
		}
		if touchesManagement {
			return ErrManagementFields
		}
		return nil
	}
	return ErrRoleNotAllowed
}

// CanDeleteEvidence reports whether a client still owns edit rights over
// the ticket's images.
func CanDeleteEvidence(actor domain.Actor, ticket *domain.Ticket) bool {
	return IsInternalClient(actor.Role) &&
		IsCreator(actor, ticket) &&
		ticket.Status == domain.TicketStatusPending
}

// AuthorizeStatusChange applies the role-specific status rules. The
// transition table is checked separately.
func AuthorizeStatusChange(actor domain.Actor, ticket *domain.Ticket, next domain.TicketStatus) error {
	switch {
	case IsAdminTier(actor.Role):
		return nil
	case IsInternalClient(actor.Role):
		if !IsCreator(actor, ticket) {
			return ErrNotCreator
		}
		if ticket.Status != domain.TicketStatusResolved {
			return ErrClientValidateOnly
		}
		if next != domain.TicketStatusClosed && next != domain.TicketStatusRejected {
			return ErrClientTarget
		}
		return nil
	case IsTechnician(actor.Role):
		if !IsAssignee(actor, ticket) {
			return ErrNotAssignee
		}
		if next == domain.TicketStatusClosed && ticket.Classification != domain.ClassificationRoutine {
			return ErrTechnicianClose
		}
		if ticket.Status == domain.TicketStatusPending {
			return ErrNotYetAssigned
		}
		return nil
	}
	return ErrRoleNotAllowed
}
