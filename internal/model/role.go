package model

import "fmt"

// Role is the authorization level of a user inside its tenant.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// ParseRole converts s into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStaff:
		return RoleStaff, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Permits reports whether a holder of r may act in a place that requires required.
// Admin is a superuser override.
func (r Role) Permits(required Role) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleStaff:
		return required == RoleStaff
	default:
		return false
	}
}
