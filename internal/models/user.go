package models

import "time"

// UserRole represents the available roles for the RBAC system. The set is
// closed and flat: no role inherits another's permissions.
type UserRole string

const (
	RoleTeacher   UserRole = "TEACHER"
	RoleSecretary UserRole = "SECRETARY"
	RolePrincipal UserRole = "PRINCIPAL"
	RoleAdmin     UserRole = "ADMIN"
)

// ValidRole reports whether the given role belongs to the closed set.
func ValidRole(role UserRole) bool {
	switch role {
	case RoleTeacher, RoleSecretary, RolePrincipal, RoleAdmin:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	InPacte      bool       `db:"in_pacte" json:"in_pacte"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
