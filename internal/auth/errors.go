package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// Authentication failures. Credential mismatches never reveal whether
	// the email or the password was wrong.
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrExpiredToken        = errors.New("auth: token expired")
	ErrUserNotFound        = errors.New("auth: user not found")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrExpiredRefreshToken = errors.New("auth: refresh token expired")

	// Authorization failures.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrPermissionDenied = errors.New("auth: permission denied")

	// ErrPermissionUndefined marks a codename referenced by a check that has
	// no row in the permission catalog. This is a code/data mismatch, never
	// a user error, and must not silently grant or deny.
	ErrPermissionUndefined = errors.New("auth: permission not defined")
)
