package auth

import "time"

// Account is the tenant boundary. Users and groups belong to exactly one
// account; deleting an account cascades to both.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a human identity within an account. Superusers conceptually span
// accounts through the authorization override, not through a relation.
type User struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	PersonalNumber string    `json:"personal_number,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OwningAccountID implements AccountScoped.
func (u *User) OwningAccountID() string { return u.AccountID }

// Group scopes a set of users within one account to a shared permission set.
type Group struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwningAccountID implements AccountScoped.
func (g *Group) OwningAccountID() string { return g.AccountID }

// Permission is a global, account-agnostic capability identified by a stable
// codename such as "view_user".
type Permission struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Codename     string    `json:"codename"`
	ResourceType string    `json:"resource_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is a long-lived opaque credential exchangeable for new access
// tokens until it expires or is revoked. A user may hold several at once.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountScoped is implemented by every entity bound to a tenant account.
// Authorization treats entities without this capability as account-agnostic.
type AccountScoped interface {
	OwningAccountID() string
}
