package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"idport.org/internal/ids"
)

// Directory provides the management operations over accounts, users, groups
// and permission grants that sit in front of the credential store.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory.
func NewDirectory(store Store) (*Directory, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Directory{store: store}, nil
}

// EnsureBuiltins seeds the built-in permission catalog.
func (d *Directory) EnsureBuiltins(ctx context.Context) error {
	return d.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// Principal loads a user with its resolved effective permission set.
func (d *Directory) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := d.store.Users().Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := d.store.Users().EffectivePermissions(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, perms), nil
}

// PrincipalFor resolves permissions for an already loaded user.
func (d *Directory) PrincipalFor(ctx context.Context, user *User) (Principal, error) {
	if user == nil {
		return Principal{}, nil
	}
	perms, err := d.store.Users().EffectivePermissions(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, perms), nil
}

// Accounts --------------------------------------------------------------

func (d *Directory) CreateAccount(ctx context.Context, name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}
	account := &Account{ID: ids.New(), Name: name}
	if err := d.store.Accounts().Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (d *Directory) GetAccount(ctx context.Context, id string) (*Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return d.store.Accounts().Find(ctx, id)
}

func (d *Directory) ListAccounts(ctx context.Context) ([]*Account, error) {
	return d.store.Accounts().List(ctx)
}

func (d *Directory) RenameAccount(ctx context.Context, id, name string) (*Account, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: account_id and name are required", ErrInvalidInput)
	}
	return d.store.Accounts().Rename(ctx, id, name)
}

// DeleteAccount removes the account; users and groups cascade in the store.
func (d *Directory) DeleteAccount(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return d.store.Accounts().Delete(ctx, id)
}

// Users -----------------------------------------------------------------

// NewUser describes a user creation request.
type NewUser struct {
	AccountID      string
	Email          string
	Password       string
	PersonalNumber string
	FirstName      string
	LastName       string
	IsSuperuser    bool
}

func (d *Directory) CreateUser(ctx context.Context, req NewUser) (*User, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:             ids.New(),
		AccountID:      req.AccountID,
		Email:          req.Email,
		PasswordHash:   hash,
		PersonalNumber: strings.TrimSpace(req.PersonalNumber),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		IsActive:       true,
		IsSuperuser:    req.IsSuperuser,
	}
	if err := d.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (d *Directory) GetUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.Users().Find(ctx, id)
}

func (d *Directory) ListUsers(ctx context.Context, accountID string) ([]*User, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return d.store.Users().List(ctx)
	}
	return d.store.Users().ListByAccount(ctx, accountID)
}

func (d *Directory) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	return d.store.Users().Update(ctx, userID, upd)
}

// SetPassword rehashes and stores a new password for the user.
func (d *Directory) SetPassword(ctx context.Context, userID, password string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return d.store.Users().UpdatePassword(ctx, userID, hash)
}

func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.Users().Delete(ctx, id)
}

func (d *Directory) GrantUserPermission(ctx context.Context, userID, permissionID string) error {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return fmt.Errorf("%w: user_id and permission_id are required", ErrInvalidInput)
	}
	return d.store.Users().GrantPermission(ctx, userID, permissionID)
}

func (d *Directory) RevokeUserPermission(ctx context.Context, userID, permissionID string) error {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return fmt.Errorf("%w: user_id and permission_id are required", ErrInvalidInput)
	}
	return d.store.Users().RevokePermission(ctx, userID, permissionID)
}

// Groups ----------------------------------------------------------------

func (d *Directory) CreateGroup(ctx context.Context, accountID, name string) (*Group, error) {
	accountID = strings.TrimSpace(accountID)
	name = strings.TrimSpace(name)
	if accountID == "" || name == "" {
		return nil, fmt.Errorf("%w: account_id and group name are required", ErrInvalidInput)
	}
	group := &Group{ID: ids.New(), AccountID: accountID, Name: name}
	if err := d.store.Groups().Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (d *Directory) GetGroup(ctx context.Context, id string) (*Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return d.store.Groups().Find(ctx, id)
}

func (d *Directory) ListGroups(ctx context.Context, accountID string) ([]*Group, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return d.store.Groups().ListByAccount(ctx, accountID)
}

func (d *Directory) RenameGroup(ctx context.Context, id, name string) (*Group, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: group_id and name are required", ErrInvalidInput)
	}
	return d.store.Groups().Rename(ctx, id, name)
}

func (d *Directory) DeleteGroup(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return d.store.Groups().Delete(ctx, id)
}

func (d *Directory) AddGroupMember(ctx context.Context, groupID, userID string) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" {
		return fmt.Errorf("%w: group_id and user_id are required", ErrInvalidInput)
	}
	return d.store.Groups().AddMember(ctx, groupID, userID)
}

func (d *Directory) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" {
		return fmt.Errorf("%w: group_id and user_id are required", ErrInvalidInput)
	}
	return d.store.Groups().RemoveMember(ctx, groupID, userID)
}

func (d *Directory) GrantGroupPermission(ctx context.Context, groupID, permissionID string) error {
	groupID = strings.TrimSpace(groupID)
	permissionID = strings.TrimSpace(permissionID)
	if groupID == "" || permissionID == "" {
		return fmt.Errorf("%w: group_id and permission_id are required", ErrInvalidInput)
	}
	return d.store.Groups().GrantPermission(ctx, groupID, permissionID)
}

func (d *Directory) RevokeGroupPermission(ctx context.Context, groupID, permissionID string) error {
	groupID = strings.TrimSpace(groupID)
	permissionID = strings.TrimSpace(permissionID)
	if groupID == "" || permissionID == "" {
		return fmt.Errorf("%w: group_id and permission_id are required", ErrInvalidInput)
	}
	return d.store.Groups().RevokePermission(ctx, groupID, permissionID)
}

// Permissions -----------------------------------------------------------

func (d *Directory) ListPermissions(ctx context.Context) ([]Permission, error) {
	return d.store.Permissions().List(ctx)
}
