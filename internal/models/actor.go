package models

import "github.com/google/uuid"

// Role is the capacity in which an actor performs a booking action
type Role string

const (
	RoleTraveler Role = "traveler"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
)

// IsValid checks the role against the known set
func (r Role) IsValid() bool {
	switch r {
	case RoleTraveler, RoleManager, RoleOperator:
		return true
	}
	return false
}

// Actor identifies who is acting, plus request metadata kept for the audit trail
type Actor struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           Role      `json:"role"`
	IPAddress      string    `json:"-"`
	UserAgent      string    `json:"-"`
}
