package auth

// Principal represents an actor with its resolved effective permission set.
// The zero value is the anonymous principal.
type Principal struct {
	User        *User
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal from a user and its resolved permissions.
func NewPrincipal(user *User, perms []Permission) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Codename] = struct{}{}
	}
	return Principal{User: user, Permissions: set}
}

// Authenticated reports whether the principal is a present, active user.
func (p Principal) Authenticated() bool {
	return p.User != nil && p.User.IsActive
}

// Superuser reports whether the principal bypasses permission checks.
func (p Principal) Superuser() bool {
	return p.User != nil && p.User.IsSuperuser
}

// HasPermission reports whether the codename is in the effective set.
// Superuser override is applied by the resolver, not here.
func (p Principal) HasPermission(codename string) bool {
	_, ok := p.Permissions[codename]
	return ok
}
