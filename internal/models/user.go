package models

type UserRole string

const (
	RoleClinician UserRole = "clinician"
	RoleAdmin     UserRole = "admin"
)

// Principal is the caller identity taken from a verified bearer token.
type Principal struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Role    UserRole `json:"role"`
}
