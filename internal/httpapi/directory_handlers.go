package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"idport.org/internal/audit"
	"idport.org/internal/auth"
)

type createAccountRequest struct {
	Name string `json:"name"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type createUserRequest struct {
	AccountID      string `json:"account_id"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	PersonalNumber string `json:"personal_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
}

type updateUserRequest struct {
	Email          *string `json:"email"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	PersonalNumber *string `json:"personal_number"`
	IsActive       *bool   `json:"is_active"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

type createGroupRequest struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

type grantRequest struct {
	PermissionID string `json:"permission_id"`
}

// splitResource splits "/v1/<kind>/{id}[/sub[/subID]]" into its segments.
func splitResource(r *http.Request, prefix string) []string {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// actor returns the request principal; authorize has already run, so absence
// only happens on unauthenticated public routes.
func actor(r *http.Request) auth.Principal {
	principal, _ := auth.PrincipalFromContext(r.Context())
	return principal
}

// scopedAccountID limits list queries to the actor's own account unless the
// actor is a superuser, who may pass ?account_id= or omit it for everything.
func scopedAccountID(r *http.Request) string {
	principal := actor(r)
	if principal.Superuser() {
		return strings.TrimSpace(r.URL.Query().Get("account_id"))
	}
	return principal.User.AccountID
}

// Accounts -------------------------------------------------------------------

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, a.resolver.Authenticated(), a.resolver.HasPermission(auth.PermViewAccount)) {
			return
		}
		principal := actor(r)
		if principal.Superuser() {
			accounts, err := a.directory.ListAccounts(r.Context())
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, accounts)
			return
		}
		account, err := a.directory.GetAccount(r.Context(), principal.User.AccountID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []*auth.Account{account})

	case http.MethodPost:
		if !a.authorize(w, r, a.resolver.Authenticated(), a.resolver.HasPermission(auth.PermAddAccount)) {
			return
		}
		var req createAccountRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		account, err := a.directory.CreateAccount(r.Context(), req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.account.create", map[string]any{
			"target_account_id": account.ID,
			"name":              account.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/accounts/%s", account.ID))
		writeJSON(w, http.StatusCreated, account)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	parts := splitResource(r, "/v1/accounts/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	// Authentication is checked before the lookup so that unauthenticated
	// probes cannot distinguish existing ids from missing ones.
	if !a.authorize(w, r, a.resolver.Authenticated()) {
		return
	}
	account, err := a.directory.GetAccount(r.Context(), parts[0])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermViewAccount),
			a.resolver.SameAccountOrSuperuser(account)) {
			return
		}
		writeJSON(w, http.StatusOK, account)

	case http.MethodPatch:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermChangeAccount),
			a.resolver.SameAccountOrSuperuser(account)) {
			return
		}
		var req renameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		renamed, err := a.directory.RenameAccount(r.Context(), account.ID, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, renamed)

	case http.MethodDelete:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermDeleteAccount),
			a.resolver.SameAccountOrSuperuser(account)) {
			return
		}
		if err := a.directory.DeleteAccount(r.Context(), account.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.account.delete", map[string]any{
			"target_account_id": account.ID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// Users ----------------------------------------------------------------------

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, a.resolver.Authenticated(), a.resolver.HasPermission(auth.PermViewUser)) {
			return
		}
		users, err := a.directory.ListUsers(r.Context(), scopedAccountID(r))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)

	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermAddUser),
			a.resolver.SameAccountOrSuperuser(&auth.User{AccountID: req.AccountID})) {
			return
		}
		user, err := a.directory.CreateUser(r.Context(), auth.NewUser{
			AccountID:      req.AccountID,
			Email:          req.Email,
			Password:       req.Password,
			PersonalNumber: req.PersonalNumber,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.user.create", map[string]any{
			"target_user_id":    user.ID,
			"target_account_id": user.AccountID,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	parts := splitResource(r, "/v1/users/")
	if len(parts) == 0 || len(parts) > 3 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.authorize(w, r, a.resolver.Authenticated()) {
		return
	}
	user, err := a.directory.GetUser(r.Context(), parts[0])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "password":
			a.handleUserPassword(w, r, user, parts[2:])
		case "permissions":
			a.handleUserPermissions(w, r, user, parts[2:])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermViewUser),
			a.resolver.SameAccountOrSuperuser(user)) {
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodPatch:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermChangeUser),
			a.resolver.SameAccountOrSuperuser(user)) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.directory.UpdateUser(r.Context(), user.ID, auth.UserUpdate{
			Email:          req.Email,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			PersonalNumber: req.PersonalNumber,
			IsActive:       req.IsActive,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermDeleteUser),
			a.resolver.SameAccountOrSuperuser(user)) {
			return
		}
		if err := a.directory.DeleteUser(r.Context(), user.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.user.delete", map[string]any{
			"target_user_id": user.ID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUserPassword(w http.ResponseWriter, r *http.Request, user *auth.User, rest []string) {
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.authorize(w, r,
		a.resolver.Authenticated(),
		a.resolver.HasPermission(auth.PermChangeUser),
		a.resolver.SameAccountOrSuperuser(user)) {
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetPassword(r.Context(), user.ID, req.Password); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "directory.user.password.set", map[string]any{
		"target_user_id": user.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, user *auth.User, rest []string) {
	if !a.authorize(w, r,
		a.resolver.Authenticated(),
		a.resolver.HasPermission(auth.PermChangeUser),
		a.resolver.SameAccountOrSuperuser(user)) {
		return
	}

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.GrantUserPermission(r.Context(), user.ID, req.PermissionID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.user.permission.grant", map[string]any{
			"target_user_id": user.ID,
			"permission_id":  req.PermissionID,
		})
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := a.directory.RevokeUserPermission(r.Context(), user.ID, rest[0]); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.user.permission.revoke", map[string]any{
			"target_user_id": user.ID,
			"permission_id":  rest[0],
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// Groups ---------------------------------------------------------------------

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, a.resolver.Authenticated(), a.resolver.HasPermission(auth.PermViewGroup)) {
			return
		}
		groups, err := a.directory.ListGroups(r.Context(), scopedAccountID(r))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)

	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermAddGroup),
			a.resolver.SameAccountOrSuperuser(&auth.Group{AccountID: req.AccountID})) {
			return
		}
		group, err := a.directory.CreateGroup(r.Context(), req.AccountID, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.create", map[string]any{
			"target_group_id":   group.ID,
			"target_account_id": group.AccountID,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/groups/%s", group.ID))
		writeJSON(w, http.StatusCreated, group)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	parts := splitResource(r, "/v1/groups/")
	if len(parts) == 0 || len(parts) > 3 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.authorize(w, r, a.resolver.Authenticated()) {
		return
	}
	group, err := a.directory.GetGroup(r.Context(), parts[0])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "members":
			a.handleGroupMembers(w, r, group, parts[2:])
		case "permissions":
			a.handleGroupPermissions(w, r, group, parts[2:])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermViewGroup),
			a.resolver.SameAccountOrSuperuser(group)) {
			return
		}
		writeJSON(w, http.StatusOK, group)

	case http.MethodPatch:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermChangeGroup),
			a.resolver.SameAccountOrSuperuser(group)) {
			return
		}
		var req renameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		renamed, err := a.directory.RenameGroup(r.Context(), group.ID, req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, renamed)

	case http.MethodDelete:
		if !a.authorize(w, r,
			a.resolver.Authenticated(),
			a.resolver.HasPermission(auth.PermDeleteGroup),
			a.resolver.SameAccountOrSuperuser(group)) {
			return
		}
		if err := a.directory.DeleteGroup(r.Context(), group.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.delete", map[string]any{
			"target_group_id": group.ID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleGroupMembers(w http.ResponseWriter, r *http.Request, group *auth.Group, rest []string) {
	if !a.authorize(w, r,
		a.resolver.Authenticated(),
		a.resolver.HasPermission(auth.PermChangeGroup),
		a.resolver.SameAccountOrSuperuser(group)) {
		return
	}

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var req memberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.AddGroupMember(r.Context(), group.ID, req.UserID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.member.add", map[string]any{
			"target_group_id": group.ID,
			"target_user_id":  req.UserID,
		})
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := a.directory.RemoveGroupMember(r.Context(), group.ID, rest[0]); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.member.remove", map[string]any{
			"target_group_id": group.ID,
			"target_user_id":  rest[0],
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGroupPermissions(w http.ResponseWriter, r *http.Request, group *auth.Group, rest []string) {
	if !a.authorize(w, r,
		a.resolver.Authenticated(),
		a.resolver.HasPermission(auth.PermChangeGroup),
		a.resolver.SameAccountOrSuperuser(group)) {
		return
	}

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.GrantGroupPermission(r.Context(), group.ID, req.PermissionID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.permission.grant", map[string]any{
			"target_group_id": group.ID,
			"permission_id":   req.PermissionID,
		})
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := a.directory.RevokeGroupPermission(r.Context(), group.ID, rest[0]); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "directory.group.permission.revoke", map[string]any{
			"target_group_id": group.ID,
			"permission_id":   rest[0],
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// Permissions ----------------------------------------------------------------

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, a.resolver.Authenticated()) {
		return
	}
	perms, err := a.directory.ListPermissions(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}
