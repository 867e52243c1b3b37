package policy

import (
	"errors"
	"testing"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

func actor(id int64, role domain.Role) domain.Actor {
	return domain.Actor{ID: id, Role: role}
}

func TestRolePredicates(t *testing.T) {
	cases := []struct {
		role      domain.Role
		admin     bool
		tech      bool
		client    bool
		canCreate bool
	}{
		{domain.RoleSuperAdmin, true, false, false, true},
		{domain.RoleDepartmentHead, true, false, false, true},
		{domain.RoleCoordinator, true, false, false, true},
		{domain.RoleTechnician, false, true, false, false},
		{domain.RoleInternalClient, false, false, true, true},
		{domain.Role("GUEST"), false, false, false, false},
	}
	for _, tc := range cases {
		if got := IsAdminTier(tc.role); got != tc.admin {
			t.Fatalf("IsAdminTier(%s)=%v", tc.role, got)
		}
		if got := IsTechnician(tc.role); got != tc.tech {
			t.Fatalf("IsTechnician(%s)=%v", tc.role, got)
		}
		if got := IsInternalClient(tc.role); got != tc.client {
			t.Fatalf("IsInternalClient(%s)=%v", tc.role, got)
		}
		if got := CanCreate(tc.role); got != tc.canCreate {
			t.Fatalf("CanCreate(%s)=%v", tc.role, got)
		}
	}
}

func TestCanView(t *testing.T) {
	ticket := &domain.Ticket{ID: 1, CreatorID: 10, AssigneeIDs: []int64{20}}
	cases := []struct {
		name string
		a    domain.Actor
		want bool
	}{
		{"admin", actor(99, domain.RoleCoordinator), true},
		{"assigned technician", actor(20, domain.RoleTechnician), true},
		{"other technician", actor(21, domain.RoleTechnician), false},
		{"creator client", actor(10, domain.RoleInternalClient), true},
		{"other client", actor(11, domain.RoleInternalClient), false},
	}
	for _, tc := range cases {
		if got := CanView(tc.a, ticket); got != tc.want {
			t.Fatalf("%s: CanView=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestAuthorizeUpdate(t *testing.T) {
	pending := &domain.Ticket{CreatorID: 10, Status: domain.TicketStatusPending}
	assigned := &domain.Ticket{CreatorID: 10, Status: domain.TicketStatusAssigned}

	cases := []struct {
		name   string
		a      domain.Actor
		ticket *domain.Ticket
		mgmt   bool
		want   error
	}{
		{"client own pending", actor(10, domain.RoleInternalClient), pending, false, nil},
		{"client foreign", actor(11, domain.RoleInternalClient), pending, false, ErrNotCreator},
		{"client after pending", actor(10, domain.RoleInternalClient), assigned, false, ErrClientEditLocked},
		{"client management fields", actor(10, domain.RoleInternalClient), pending, true, ErrManagementFields},
		{"admin anything", actor(1, domain.RoleDepartmentHead), assigned, true, nil},
		{"technician", actor(20, domain.RoleTechnician), pending, false, ErrRoleNotAllowed},
	}
	for _, tc := range cases {
		if err := AuthorizeUpdate(tc.a, tc.ticket, tc.mgmt); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
}

func TestAuthorizeStatusChange(t *testing.T) {
	base := domain.Ticket{
		CreatorID:      10,
		AssigneeIDs:    []int64{20},
		Classification: domain.ClassificationCorrective,
	}
	with := func(status domain.TicketStatus, class domain.Classification) *domain.Ticket {
		tk := base
		tk.Status = status
		tk.Classification = class
		return &tk
	}

	cases := []struct {
		name   string
		a      domain.Actor
		ticket *domain.Ticket
		next   domain.TicketStatus
		want   error
	}{
		{"client closes resolved", actor(10, domain.RoleInternalClient), with(domain.TicketStatusResolved, base.Classification), domain.TicketStatusClosed, nil},
		{"client rejects resolved", actor(10, domain.RoleInternalClient), with(domain.TicketStatusResolved, base.Classification), domain.TicketStatusRejected, nil},
		{"client before resolved", actor(10, domain.RoleInternalClient), with(domain.TicketStatusInProgress, base.Classification), domain.TicketStatusClosed, ErrClientValidateOnly},
		{"client wrong target", actor(10, domain.RoleInternalClient), with(domain.TicketStatusResolved, base.Classification), domain.TicketStatusCancelled, ErrClientTarget},
		{"foreign client", actor(11, domain.RoleInternalClient), with(domain.TicketStatusResolved, base.Classification), domain.TicketStatusClosed, ErrNotCreator},
		{"tech starts work", actor(20, domain.RoleTechnician), with(domain.TicketStatusAssigned, base.Classification), domain.TicketStatusInProgress, nil},
		{"tech not assigned", actor(21, domain.RoleTechnician), with(domain.TicketStatusAssigned, base.Classification), domain.TicketStatusInProgress, ErrNotAssignee},
		{"tech closes corrective", actor(20, domain.RoleTechnician), with(domain.TicketStatusInProgress, base.Classification), domain.TicketStatusClosed, ErrTechnicianClose},
		{"tech closes routine", actor(20, domain.RoleTechnician), with(domain.TicketStatusInProgress, domain.ClassificationRoutine), domain.TicketStatusClosed, nil},
		{"tech on pending", actor(20, domain.RoleTechnician), with(domain.TicketStatusPending, base.Classification), domain.TicketStatusInProgress, ErrNotYetAssigned},
		{"admin", actor(1, domain.RoleSuperAdmin), with(domain.TicketStatusPending, base.Classification), domain.TicketStatusCancelled, nil},
		{"unknown role", actor(5, domain.Role("GUEST")), with(domain.TicketStatusPending, base.Classification), domain.TicketStatusCancelled, ErrRoleNotAllowed},
	}
	for _, tc := range cases {
		if err := AuthorizeStatusChange(tc.a, tc.ticket, tc.next); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
}

func TestEditableFields(t *testing.T) {
	client := EditableFields(domain.RoleInternalClient)
	if !client.Has(FieldTitle) || !client.Has(FieldEvidenceDelete) {
		t.Fatalf("client mask missing content fields")
	}
	if client.Has(FieldPriority) || client.Has(FieldAssignees) || client.Has(FieldType) {
		t.Fatalf("client mask leaks management fields")
	}

	admin := EditableFields(domain.RoleCoordinator)
	if !admin.Has(FieldAssignees) || !admin.Has(FieldDueDate) || !admin.Has(FieldClassification) {
		t.Fatalf("admin mask missing management fields")
	}
	if admin.Has(FieldTitle) {
		t.Fatalf("admin mask should not carry client content fields")
	}

	if len(EditableFields(domain.RoleTechnician)) != 0 {
		t.Fatalf("technicians edit nothing through update")
	}
}

func TestClientClassifications(t *testing.T) {
	allowed := []domain.Classification{domain.ClassificationCorrective, domain.ClassificationImprovement, domain.ClassificationInfrastructure}
	denied := []domain.Classification{domain.ClassificationPreventive, domain.ClassificationInspection, domain.ClassificationRoutine}
	for _, c := range allowed {
		if !ClientMayClassify(c) {
			t.Fatalf("%s should be client-safe", c)
		}
	}
	for _, c := range denied {
		if ClientMayClassify(c) {
			t.Fatalf("%s should not be client-safe", c)
		}
	}
}

func TestCanAssign(t *testing.T) {
	p := New(nil)
	if !p.CanAssign(domain.RoleDepartmentHead, domain.RoleCoordinator) {
		t.Fatalf("department head should assign any role by default")
	}
	if p.CanAssign(domain.RoleCoordinator, domain.RoleCoordinator) {
		t.Fatalf("coordinator should be limited to technicians")
	}
	if !p.CanAssign(domain.RoleCoordinator, domain.RoleTechnician) {
		t.Fatalf("coordinator should assign technicians")
	}
	if p.CanAssign(domain.RoleTechnician, domain.RoleTechnician) {
		t.Fatalf("technicians never assign")
	}

	strict := New(AssignmentRules{
		domain.RoleDepartmentHead: {domain.RoleTechnician},
	})
	if strict.CanAssign(domain.RoleDepartmentHead, domain.RoleInternalClient) {
		t.Fatalf("configured rule not applied")
	}
	if !strict.CanAssign(domain.RoleCoordinator, domain.RoleInternalClient) {
		t.Fatalf("roles absent from configured rules are unrestricted")
	}
}
