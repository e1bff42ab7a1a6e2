package bankid

import "errors"

var (
	// ErrUpstream wraps transport failures and non-2xx replies from the
	// provider. Calls are never retried; the caller decides what to do.
	ErrUpstream = errors.New("bankid: provider unavailable")

	// ErrOrderNotFound is returned when no active order matches the
	// reference, including orders already claimed by a concurrent poll.
	ErrOrderNotFound = errors.New("bankid: order not found")

	// ErrSessionExpired marks an order whose QR window has passed. The
	// order is purged as the expiry is discovered.
	ErrSessionExpired = errors.New("bankid: authentication session has expired")

	// ErrRejected carries the provider's failure message for a terminal
	// failed collect status.
	ErrRejected = errors.New("bankid: authentication rejected")

	// ErrNoAssociatedAccount is returned when identification completed but
	// the personal number matches no user.
	ErrNoAssociatedAccount = errors.New("bankid: no account associated with this personal number")
)
