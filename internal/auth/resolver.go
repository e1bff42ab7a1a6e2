package auth

import (
	"context"
	"errors"
	"fmt"
)

// Check is one authorization predicate. A handler declares an ordered list of
// checks; Resolver.Authorize evaluates them and stops at the first failure.
type Check interface {
	Authorize(ctx context.Context, p Principal) error
}

type checkFunc func(ctx context.Context, p Principal) error

func (f checkFunc) Authorize(ctx context.Context, p Principal) error { return f(ctx, p) }

// Resolver evaluates authorization decisions against a principal's resolved
// permission set and, when composing denial messages, the permission catalog.
type Resolver struct {
	perms PermissionStore
}

// NewResolver constructs a Resolver backed by the permission catalog.
func NewResolver(perms PermissionStore) (*Resolver, error) {
	if perms == nil {
		return nil, errors.New("permission store is required")
	}
	return &Resolver{perms: perms}, nil
}

// Authorize evaluates checks in order and returns the first failure, or nil
// when every check passes.
func (r *Resolver) Authorize(ctx context.Context, p Principal, checks ...Check) error {
	for _, check := range checks {
		if err := check.Authorize(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Authenticated requires a present, active actor.
func (r *Resolver) Authenticated() Check {
	return checkFunc(func(_ context.Context, p Principal) error {
		if !p.Authenticated() {
			return fmt.Errorf("%w: you must be signed in to perform this action", ErrNotAuthenticated)
		}
		return nil
	})
}

// Superuser requires the actor's superuser flag.
func (r *Resolver) Superuser() Check {
	return checkFunc(func(_ context.Context, p Principal) error {
		if !p.Authenticated() {
			return fmt.Errorf("%w: you must be signed in to perform this action", ErrNotAuthenticated)
		}
		if !p.Superuser() {
			return fmt.Errorf("%w: you must have superuser privileges to perform this action", ErrPermissionDenied)
		}
		return nil
	})
}

// SameAccountOrSuperuser passes when the actor is a superuser, when the
// target is the actor's own Account, or when the target carries an owning
// account equal to the actor's. A target without the AccountScoped capability
// is account-agnostic and therefore permitted.
func (r *Resolver) SameAccountOrSuperuser(target any) Check {
	return checkFunc(func(_ context.Context, p Principal) error {
		if p.Superuser() {
			return nil
		}
		if !p.Authenticated() {
			return fmt.Errorf("%w: you must be signed in to perform this action", ErrNotAuthenticated)
		}
		switch t := target.(type) {
		case *Account:
			if t != nil && t.ID == p.User.AccountID {
				return nil
			}
		case AccountScoped:
			if t.OwningAccountID() == p.User.AccountID {
				return nil
			}
		default:
			return nil
		}
		return fmt.Errorf("%w: this resource is not associated with your account", ErrPermissionDenied)
	})
}

// HasPermission passes when the actor is a superuser or the codename is in
// the actor's effective permission set. The catalog is consulted only to name
// the missing permission in the denial; superusers never trigger the lookup,
// so the check works for them even when the row does not exist.
func (r *Resolver) HasPermission(codename string) Check {
	return checkFunc(func(ctx context.Context, p Principal) error {
		if p.Superuser() {
			return nil
		}
		if !p.Authenticated() {
			return fmt.Errorf("%w: you must be signed in to perform this action", ErrNotAuthenticated)
		}
		if p.HasPermission(codename) {
			return nil
		}
		perm, err := r.perms.FindByCodename(ctx, codename)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: codename %q has no catalog entry", ErrPermissionUndefined, codename)
			}
			return err
		}
		return fmt.Errorf("%w: missing permission %q", ErrPermissionDenied, perm.Name)
	})
}
