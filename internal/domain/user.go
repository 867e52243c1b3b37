package domain

import "time"

// Role enumerates user roles in the maintenance organization.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleDepartmentHead Role = "DEPARTMENT_HEAD"
	RoleCoordinator    Role = "COORDINATOR"
	RoleTechnician     Role = "TECHNICIAN"
	RoleInternalClient Role = "INTERNAL_CLIENT"
)

// AllRoles lists every role.
var AllRoles = []Role{
	RoleSuperAdmin,
	RoleDepartmentHead,
	RoleCoordinator,
	RoleTechnician,
	RoleInternalClient,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, candidate := range AllRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

// User is an account that can report, manage or execute work.
type User struct {
	ID           int64
	Name         string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Position     string
	DepartmentID *int64
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may act.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// Actor returns the identity used by the workflow engine.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role, DepartmentID: u.DepartmentID, Email: u.Email}
}
