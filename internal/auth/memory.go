package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"idport.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used by tests and local development. All
// record writes happen under one mutex, mirroring the per-record atomicity
// the SQL store gets from single statements.
type MemStore struct {
	mu sync.Mutex

	accounts map[string]*Account
	users    map[string]*User
	groups   map[string]*Group
	perms    map[string]*Permission // by id
	tokens   map[string]*RefreshToken

	userPerms  map[string]map[string]struct{} // userID -> permissionID set
	groupPerms map[string]map[string]struct{} // groupID -> permissionID set
	members    map[string]map[string]struct{} // groupID -> userID set

	now func() time.Time
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:   make(map[string]*Account),
		users:      make(map[string]*User),
		groups:     make(map[string]*Group),
		perms:      make(map[string]*Permission),
		tokens:     make(map[string]*RefreshToken),
		userPerms:  make(map[string]map[string]struct{}),
		groupPerms: make(map[string]map[string]struct{}),
		members:    make(map[string]map[string]struct{}),
		now:        time.Now,
	}
}

// SetClock overrides the time source used for created/updated timestamps.
func (m *MemStore) SetClock(fn func() time.Time) {
	if fn != nil {
		m.now = fn
	}
}

func (m *MemStore) Accounts() AccountStore           { return (*memAccounts)(m) }
func (m *MemStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *MemStore) Groups() GroupStore               { return (*memGroups)(m) }
func (m *MemStore) Permissions() PermissionStore     { return (*memPermissions)(m) }
func (m *MemStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(m) }

// Accounts ------------------------------------------------------------------

type memAccounts MemStore

func (m *memAccounts) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Name == account.Name {
			return ErrConflict
		}
	}
	now := m.now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) List(_ context.Context) ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *memAccounts) Rename(_ context.Context, id, name string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Name = name
	a.UpdatedAt = m.now().UTC()
	cp := *a
	return &cp, nil
}

func (m *memAccounts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	// Cascade to users and groups of the account.
	for uid, u := range m.users {
		if u.AccountID == id {
			delete(m.users, uid)
			delete(m.userPerms, uid)
		}
	}
	for gid, g := range m.groups {
		if g.AccountID == id {
			delete(m.groups, gid)
			delete(m.groupPerms, gid)
			delete(m.members, gid)
		}
	}
	return nil
}

// Users ---------------------------------------------------------------------

type memUsers MemStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
		if u.PersonalNumber != "" && existing.PersonalNumber == u.PersonalNumber {
			return ErrConflict
		}
	}
	now := m.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByPersonalNumber(_ context.Context, personalNumber string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if personalNumber == "" {
		return nil, ErrNotFound
	}
	for _, u := range m.users {
		if u.PersonalNumber == personalNumber {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(_ context.Context) ([]*User, error) {
	return m.collect(func(*User) bool { return true })
}

func (m *memUsers) ListByAccount(_ context.Context, accountID string) ([]*User, error) {
	return m.collect(func(u *User) bool { return u.AccountID == accountID })
}

func (m *memUsers) collect(keep func(*User) bool) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*User
	for _, u := range m.users {
		if keep(u) {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *memUsers) Update(_ context.Context, userID string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.PersonalNumber != nil {
		u.PersonalNumber = *upd.PersonalNumber
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	u.UpdatedAt = m.now().UTC()
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.userPerms, id)
	for _, set := range m.members {
		delete(set, id)
	}
	for tid, t := range m.tokens {
		if t.UserID == id {
			delete(m.tokens, tid)
		}
	}
	return nil
}

func (m *memUsers) GrantPermission(_ context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	set, ok := m.userPerms[userID]
	if !ok {
		set = make(map[string]struct{})
		m.userPerms[userID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (m *memUsers) RevokePermission(_ context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userPerms[userID], permissionID)
	return nil
}

func (m *memUsers) DirectPermissions(_ context.Context, userID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissionList(m.userPerms[userID]), nil
}

func (m *memUsers) EffectivePermissions(_ context.Context, userID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	union := make(map[string]struct{})
	for id := range m.userPerms[userID] {
		union[id] = struct{}{}
	}
	for groupID, memberSet := range m.members {
		if _, isMember := memberSet[userID]; !isMember {
			continue
		}
		for id := range m.groupPerms[groupID] {
			union[id] = struct{}{}
		}
	}
	return m.permissionList(union), nil
}

func (m *memUsers) permissionList(idSet map[string]struct{}) []Permission {
	var res []Permission
	for id := range idSet {
		if p, ok := m.perms[id]; ok {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Codename < res[j].Codename })
	return res
}

// Groups --------------------------------------------------------------------

type memGroups MemStore

func (m *memGroups) Create(_ context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	cp := *g
	m.groups[g.ID] = &cp
	return nil
}

func (m *memGroups) Find(_ context.Context, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGroups) ListByAccount(_ context.Context, accountID string) ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*Group
	for _, g := range m.groups {
		if g.AccountID == accountID {
			cp := *g
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *memGroups) Rename(_ context.Context, id, name string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	g.Name = name
	g.UpdatedAt = m.now().UTC()
	cp := *g
	return &cp, nil
}

func (m *memGroups) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	delete(m.groupPerms, id)
	delete(m.members, id)
	return nil
}

func (m *memGroups) AddMember(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	set, ok := m.members[groupID]
	if !ok {
		set = make(map[string]struct{})
		m.members[groupID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *memGroups) RemoveMember(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[groupID], userID)
	return nil
}

func (m *memGroups) Members(_ context.Context, groupID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*User
	for userID := range m.members[groupID] {
		if u, ok := m.users[userID]; ok {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *memGroups) GrantPermission(_ context.Context, groupID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	set, ok := m.groupPerms[groupID]
	if !ok {
		set = make(map[string]struct{})
		m.groupPerms[groupID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (m *memGroups) RevokePermission(_ context.Context, groupID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groupPerms[groupID], permissionID)
	return nil
}

func (m *memGroups) Permissions(_ context.Context, groupID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memUsers)(m).permissionList(m.groupPerms[groupID]), nil
}

// Permissions ---------------------------------------------------------------

type memPermissions MemStore

func (m *memPermissions) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if m.findByCodename(p.Codename) != nil {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		p.CreatedAt = m.now().UTC()
		cp := p
		m.perms[p.ID] = &cp
	}
	return nil
}

func (m *memPermissions) List(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Codename < res[j].Codename })
	return res, nil
}

func (m *memPermissions) Find(_ context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPermissions) FindByCodename(_ context.Context, codename string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findByCodename(codename); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memPermissions) findByCodename(codename string) *Permission {
	codename = strings.TrimSpace(codename)
	for _, p := range m.perms {
		if p.Codename == codename {
			return p
		}
	}
	return nil
}

// Refresh tokens ------------------------------------------------------------

type memTokens MemStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[tok.Token]; exists {
		return ErrConflict
	}
	cp := *tok
	m.tokens[tok.Token] = &cp
	return nil
}

func (m *memTokens) FindByToken(_ context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) DeleteByToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return false, nil
	}
	delete(m.tokens, token)
	return true, nil
}

func (m *memTokens) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, token)
		}
	}
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, token)
			n++
		}
	}
	return n, nil
}
