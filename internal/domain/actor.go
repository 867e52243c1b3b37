package domain

// Actor is the authenticated caller supplied by the identity provider.
type Actor struct {
	ID           int64
	Role         Role
	DepartmentID *int64
	Email        string
}
