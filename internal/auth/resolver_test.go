package auth

import (
	"context"
	"errors"
	"testing"
)

type resolverFixture struct {
	store    *MemStore
	dir      *Directory
	resolver *Resolver
	account  *Account
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	store := NewMemStore()
	dir, err := NewDirectory(store)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	resolver, err := NewResolver(store.Permissions())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	account, err := dir.CreateAccount(context.Background(), "acme")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return &resolverFixture{store: store, dir: dir, resolver: resolver, account: account}
}

func (f *resolverFixture) user(t *testing.T, email string, superuser bool) *User {
	t.Helper()
	u, err := f.dir.CreateUser(context.Background(), NewUser{
		AccountID:   f.account.ID,
		Email:       email,
		Password:    "swordfish-123",
		IsSuperuser: superuser,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (f *resolverFixture) principal(t *testing.T, u *User) Principal {
	t.Helper()
	p, err := f.dir.PrincipalFor(context.Background(), u)
	if err != nil {
		t.Fatalf("PrincipalFor: %v", err)
	}
	return p
}

func (f *resolverFixture) permissionID(t *testing.T, codename string) string {
	t.Helper()
	perm, err := f.store.Permissions().FindByCodename(context.Background(), codename)
	if err != nil {
		t.Fatalf("FindByCodename(%s): %v", codename, err)
	}
	return perm.ID
}

func TestAuthorizeStopsAtFirstFailure(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	err := f.resolver.Authorize(ctx, Principal{},
		f.resolver.Authenticated(),
		f.resolver.HasPermission(PermViewUser),
	)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated from the first check, got %v", err)
	}
}

func TestAuthenticatedCheck(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	user := f.user(t, "alice@example.com", false)

	if err := f.resolver.Authorize(ctx, f.principal(t, user), f.resolver.Authenticated()); err != nil {
		t.Fatalf("active user rejected: %v", err)
	}
	if err := f.resolver.Authorize(ctx, Principal{}, f.resolver.Authenticated()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for anonymous, got %v", err)
	}

	inactive := *user
	inactive.IsActive = false
	err := f.resolver.Authorize(ctx, NewPrincipal(&inactive, nil), f.resolver.Authenticated())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for inactive user, got %v", err)
	}
}

func TestSuperuserCheck(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	root := f.user(t, "root@example.com", true)
	if err := f.resolver.Authorize(ctx, f.principal(t, root), f.resolver.Superuser()); err != nil {
		t.Fatalf("superuser rejected: %v", err)
	}

	plain := f.user(t, "alice@example.com", false)
	if err := f.resolver.Authorize(ctx, f.principal(t, plain), f.resolver.Superuser()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSameAccountOrSuperuser(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	user := f.user(t, "alice@example.com", false)
	root := f.user(t, "root@example.com", true)
	otherAccount, err := f.dir.CreateAccount(ctx, "globex")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	sameGroup, err := f.dir.CreateGroup(ctx, f.account.ID, "ops")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	otherGroup, err := f.dir.CreateGroup(ctx, otherAccount.ID, "ops")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	cases := []struct {
		name   string
		actor  Principal
		target any
		denied bool
	}{
		{"own account", f.principal(t, user), f.account, false},
		{"foreign account", f.principal(t, user), otherAccount, true},
		{"group in own account", f.principal(t, user), sameGroup, false},
		{"group in foreign account", f.principal(t, user), otherGroup, true},
		{"account-agnostic target", f.principal(t, user), "just-a-string", false},
		{"superuser crosses accounts", f.principal(t, root), otherGroup, false},
	}
	for _, tc := range cases {
		err := f.resolver.Authorize(ctx, tc.actor, f.resolver.SameAccountOrSuperuser(tc.target))
		if tc.denied && !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("%s: expected ErrPermissionDenied, got %v", tc.name, err)
		}
		if !tc.denied && err != nil {
			t.Fatalf("%s: unexpected denial: %v", tc.name, err)
		}
	}
}

func TestHasPermissionDirectGrant(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	user := f.user(t, "alice@example.com", false)

	check := f.resolver.HasPermission(PermViewUser)
	if err := f.resolver.Authorize(ctx, f.principal(t, user), check); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied before grant, got %v", err)
	}

	if err := f.dir.GrantUserPermission(ctx, user.ID, f.permissionID(t, PermViewUser)); err != nil {
		t.Fatalf("GrantUserPermission: %v", err)
	}
	if err := f.resolver.Authorize(ctx, f.principal(t, user), check); err != nil {
		t.Fatalf("expected grant to authorize, got %v", err)
	}
}

func TestHasPermissionInheritedFromGroup(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	user := f.user(t, "alice@example.com", false)

	group, err := f.dir.CreateGroup(ctx, f.account.ID, "auditors")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := f.dir.GrantGroupPermission(ctx, group.ID, f.permissionID(t, PermViewAccount)); err != nil {
		t.Fatalf("GrantGroupPermission: %v", err)
	}
	if err := f.dir.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}

	check := f.resolver.HasPermission(PermViewAccount)
	if err := f.resolver.Authorize(ctx, f.principal(t, user), check); err != nil {
		t.Fatalf("expected group grant to authorize, got %v", err)
	}

	if err := f.dir.RemoveGroupMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("RemoveGroupMember: %v", err)
	}
	if err := f.resolver.Authorize(ctx, f.principal(t, user), check); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial after leaving group, got %v", err)
	}
}

func TestHasPermissionUndefinedCodename(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	user := f.user(t, "alice@example.com", false)

	err := f.resolver.Authorize(ctx, f.principal(t, user), f.resolver.HasPermission("launch_missiles"))
	if !errors.Is(err, ErrPermissionUndefined) {
		t.Fatalf("expected ErrPermissionUndefined, got %v", err)
	}
}

func TestHasPermissionSuperuserSkipsCatalog(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	root := f.user(t, "root@example.com", true)

	// Superusers pass even for codenames the catalog has never seen.
	err := f.resolver.Authorize(ctx, f.principal(t, root), f.resolver.HasPermission("launch_missiles"))
	if err != nil {
		t.Fatalf("expected superuser to pass, got %v", err)
	}
}
