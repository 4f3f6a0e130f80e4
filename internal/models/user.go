package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent    UserRole = "STUDENT"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleDepartment UserRole = "DEPARTMENT"
	RoleAdmin      UserRole = "ADMIN"
)

// IsStaff reports whether the role belongs to the department office.
func (r UserRole) IsStaff() bool {
	return r == RoleDepartment || r == RoleAdmin
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UserProfile mirrors the identity claims of a user who has called the API.
// Accounts live in the external account system; the copy kept here lets
// registrations be joined with the student code the roster is matched on.
type UserProfile struct {
	ID        string    `db:"id" json:"id"`
	UserCode  string    `db:"user_code" json:"user_code"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Role      UserRole  `db:"role" json:"role"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
