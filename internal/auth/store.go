package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Accounts() AccountStore
	Users() UserStore
	Groups() GroupStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
}

// AccountStore manages tenant accounts.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	Rename(ctx context.Context, id, name string) (*Account, error)
	Delete(ctx context.Context, id string) error
}

// UserStore manages users, their direct permission grants and the resolution
// of effective permission sets.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByPersonalNumber(ctx context.Context, personalNumber string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	ListByAccount(ctx context.Context, accountID string) ([]*User, error)
	Update(ctx context.Context, userID string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	Delete(ctx context.Context, id string) error

	GrantPermission(ctx context.Context, userID, permissionID string) error
	RevokePermission(ctx context.Context, userID, permissionID string) error
	DirectPermissions(ctx context.Context, userID string) ([]Permission, error)

	// EffectivePermissions returns the union of the user's direct grants and
	// the grants of every group the user belongs to.
	EffectivePermissions(ctx context.Context, userID string) ([]Permission, error)
}

// UserUpdate carries optional field changes; nil means leave unchanged.
type UserUpdate struct {
	Email          *string
	FirstName      *string
	LastName       *string
	PersonalNumber *string
	IsActive       *bool
}

// GroupStore manages groups, their membership and permission grants.
type GroupStore interface {
	Create(ctx context.Context, g *Group) error
	Find(ctx context.Context, id string) (*Group, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Group, error)
	Rename(ctx context.Context, id, name string) (*Group, error)
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	Members(ctx context.Context, groupID string) ([]*User, error)

	GrantPermission(ctx context.Context, groupID, permissionID string) error
	RevokePermission(ctx context.Context, groupID, permissionID string) error
	Permissions(ctx context.Context, groupID string) ([]Permission, error)
}

// PermissionStore manages the global permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	Find(ctx context.Context, id string) (*Permission, error)
	FindByCodename(ctx context.Context, codename string) (*Permission, error)
}

// RefreshTokenStore manages refresh token lifecycle. Tokens are stored
// verbatim; revocation is deletion.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	// DeleteByToken removes the record and reports whether one existed.
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
