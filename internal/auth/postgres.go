package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"idport.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a PGStore over an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts() AccountStore           { return &accountStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Groups() GroupStore               { return &groupStore{db: s.db} }
func (s *PGStore) Permissions() PermissionStore     { return &permissionStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func translateWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrConflict
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: referenced record does not exist", ErrInvalidInput)
		}
	}
	return err
}

// Account store ------------------------------------------------------------

type accountStore struct{ db *sql.DB }

func (s *accountStore) Create(ctx context.Context, account *Account) error {
	row := s.db.QueryRowContext(ctx,
		`insert into accounts(id, name) values($1,$2)
		 returning created_at, updated_at`,
		account.ID, account.Name,
	)
	if err := row.Scan(&account.CreatedAt, &account.UpdatedAt); err != nil {
		return translateWriteError(err)
	}
	return nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from accounts where id=$1`, id)
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *accountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at from accounts order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, rows.Err()
}

func (s *accountStore) Rename(ctx context.Context, id, name string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`update accounts set name=$2, updated_at=now() where id=$1
		 returning id, name, created_at, updated_at`, id, name)
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translateWriteError(err)
	}
	return &a, nil
}

func (s *accountStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, account_id, email, password_hash,
	coalesce(personal_number, ''), first_name, last_name,
	is_active, is_superuser, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.AccountID, &u.Email, &u.PasswordHash,
		&u.PersonalNumber, &u.FirstName, &u.LastName,
		&u.IsActive, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	var personalNumber any
	if u.PersonalNumber != "" {
		personalNumber = u.PersonalNumber
	}
	row := s.db.QueryRowContext(ctx,
		`insert into users(id, account_id, email, password_hash, personal_number,
			first_name, last_name, is_active, is_superuser)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 returning created_at, updated_at`,
		u.ID, u.AccountID, u.Email, u.PasswordHash, personalNumber,
		u.FirstName, u.LastName, u.IsActive, u.IsSuperuser,
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return translateWriteError(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) FindByPersonalNumber(ctx context.Context, personalNumber string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where personal_number=$1`, personalNumber))
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, `select `+userColumns+` from users order by created_at`)
}

func (s *userStore) ListByAccount(ctx context.Context, accountID string) ([]*User, error) {
	return s.queryUsers(ctx,
		`select `+userColumns+` from users where account_id=$1 order by created_at`, accountID)
}

func (s *userStore) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) Update(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	sets := []string{"updated_at=now()"}
	args := []any{userID}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.PersonalNumber != nil {
		if *upd.PersonalNumber == "" {
			sets = append(sets, "personal_number=null")
		} else {
			add("personal_number", *upd.PersonalNumber)
		}
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	query := `update users set ` + strings.Join(sets, ", ") +
		` where id=$1 returning ` + userColumns
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, translateWriteError(err)
	}
	return u, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) GrantPermission(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_permissions(user_id, permission_id) values($1,$2)
		 on conflict do nothing`,
		userID, permissionID)
	return translateWriteError(err)
}

func (s *userStore) RevokePermission(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_permissions where user_id=$1 and permission_id=$2`,
		userID, permissionID)
	return err
}

func (s *userStore) DirectPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return queryPermissions(ctx, s.db,
		`select p.id, p.name, p.codename, p.resource_type, p.created_at
		 from permissions p
		 join user_permissions up on up.permission_id = p.id
		 where up.user_id = $1
		 order by p.codename`, userID)
}

func (s *userStore) EffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	return queryPermissions(ctx, s.db,
		`select p.id, p.name, p.codename, p.resource_type, p.created_at
		 from permissions p
		 join user_permissions up on up.permission_id = p.id
		 where up.user_id = $1
		 union
		 select p.id, p.name, p.codename, p.resource_type, p.created_at
		 from permissions p
		 join group_permissions gp on gp.permission_id = p.id
		 join group_members gm on gm.group_id = gp.group_id
		 where gm.user_id = $1`, userID)
}

// Group store ---------------------------------------------------------------

type groupStore struct{ db *sql.DB }

func (s *groupStore) Create(ctx context.Context, g *Group) error {
	row := s.db.QueryRowContext(ctx,
		`insert into groups(id, account_id, name) values($1,$2,$3)
		 returning created_at, updated_at`,
		g.ID, g.AccountID, g.Name)
	if err := row.Scan(&g.CreatedAt, &g.UpdatedAt); err != nil {
		return translateWriteError(err)
	}
	return nil
}

func (s *groupStore) Find(ctx context.Context, id string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, name, created_at, updated_at from groups where id=$1`, id)
	var g Group
	if err := row.Scan(&g.ID, &g.AccountID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (s *groupStore) ListByAccount(ctx context.Context, accountID string) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, account_id, name, created_at, updated_at
		 from groups where account_id=$1 order by created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.AccountID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *groupStore) Rename(ctx context.Context, id, name string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`update groups set name=$2, updated_at=now() where id=$1
		 returning id, account_id, name, created_at, updated_at`, id, name)
	var g Group
	if err := row.Scan(&g.ID, &g.AccountID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translateWriteError(err)
	}
	return &g, nil
}

func (s *groupStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from groups where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *groupStore) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into group_members(group_id, user_id) values($1,$2)
		 on conflict do nothing`, groupID, userID)
	return translateWriteError(err)
}

func (s *groupStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from group_members where group_id=$1 and user_id=$2`, groupID, userID)
	return err
}

func (s *groupStore) Members(ctx context.Context, groupID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select u.id, u.account_id, u.email, u.password_hash,
			coalesce(u.personal_number, ''), u.first_name, u.last_name,
			u.is_active, u.is_superuser, u.created_at, u.updated_at
		 from users u
		 join group_members gm on gm.user_id = u.id
		 where gm.group_id = $1
		 order by u.created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *groupStore) GrantPermission(ctx context.Context, groupID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into group_permissions(group_id, permission_id) values($1,$2)
		 on conflict do nothing`, groupID, permissionID)
	return translateWriteError(err)
}

func (s *groupStore) RevokePermission(ctx context.Context, groupID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from group_permissions where group_id=$1 and permission_id=$2`,
		groupID, permissionID)
	return err
}

func (s *groupStore) Permissions(ctx context.Context, groupID string) ([]Permission, error) {
	return queryPermissions(ctx, s.db,
		`select p.id, p.name, p.codename, p.resource_type, p.created_at
		 from permissions p
		 join group_permissions gp on gp.permission_id = p.id
		 where gp.group_id = $1
		 order by p.codename`, groupID)
}

// Permission store ----------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, name, codename, resource_type)
			 values($1,$2,$3,$4) on conflict (codename) do nothing`,
			id, p.Name, p.Codename, p.ResourceType)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]Permission, error) {
	return queryPermissions(ctx, s.db,
		`select id, name, codename, resource_type, created_at
		 from permissions order by codename`)
}

func (s *permissionStore) Find(ctx context.Context, id string) (*Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx,
		`select id, name, codename, resource_type, created_at
		 from permissions where id=$1`, id))
}

func (s *permissionStore) FindByCodename(ctx context.Context, codename string) (*Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx,
		`select id, name, codename, resource_type, created_at
		 from permissions where codename=$1`, codename))
}

func scanPermission(row *sql.Row) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Codename, &p.ResourceType, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func queryPermissions(ctx context.Context, db *sql.DB, query string, args ...any) ([]Permission, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Codename, &p.ResourceType, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Refresh token store -------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token, created_at, expires_at)
		 values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.Token, tok.CreatedAt, tok.ExpiresAt)
	return translateWriteError(err)
}

func (s *refreshTokenStore) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token, created_at, expires_at
		 from refresh_tokens where token=$1`, token)
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *refreshTokenStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where token=$1`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *refreshTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
