package model

import "github.com/google/uuid"

type Role string

const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
	RoleDentist Role = "dentist"
	RoleAdmin   Role = "admin"
)

// Actor identifies who is performing an operation. Every core service
// method takes one explicitly; nothing is read from session state.
type Actor struct {
	UserID   uuid.UUID `json:"user_id"`
	Role     Role      `json:"role"`
	BranchID uuid.UUID `json:"branch_id"`
}

// IsStaff reports whether the actor acts on behalf of a branch.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleDentist || a.Role == RoleAdmin
}
