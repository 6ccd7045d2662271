package models

import "time"

// UserRole represents the closed set of portal roles.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleStaff   UserRole = "staff"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether the role belongs to the closed set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// User represents a portal profile stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	Role         UserRole  `db:"role" json:"role"`
	Department   *string   `db:"department" json:"department"`
	Anonymous    bool      `db:"anonymous" json:"anonymous"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Actor is the authenticated caller resolved by the access gate.
type Actor struct {
	ID          string
	Role        UserRole
	Department  string
	Email       string
	DisplayName string
	Anonymous   bool
}

// IsAdmin reports whether the actor holds the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// Name returns the most human friendly label available for the actor.
func (a *Actor) Name() string {
	if a == nil {
		return "User"
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Email != "" {
		return a.Email
	}
	return "User"
}

// ActorFromUser projects a stored profile into an Actor.
func ActorFromUser(u *User) *Actor {
	if u == nil {
		return nil
	}
	actor := &Actor{
		ID:          u.ID,
		Role:        u.Role,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Anonymous:   u.Anonymous,
	}
	if u.Department != nil {
		actor.Department = *u.Department
	}
	return actor
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
