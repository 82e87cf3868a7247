package domain

// Role is the caller role carried in the access token.
type Role string

const (
	RoleUser    Role = "User"
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Identity is the verified {id, role} claim of a bearer token.
type Identity struct {
	ID   string
	Role Role
}

// RoleSet is the allow-list of roles for a route. Roles do not imply
// each other; Admin is only allowed where it is listed.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Allows reports whether role is in the set.
func (s RoleSet) Allows(role Role) bool {
	_, ok := s[role]
	return ok
}
