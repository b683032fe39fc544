package checkout

import "errors"

var (
	// ErrLockTimeout indicates the shared checkout write lock was not
	// acquired within the caller's timeout. Retryable after inspection.
	ErrLockTimeout = errors.New("checkout write lock timeout")

	// ErrDirtyCheckout indicates the shared checkout has uncommitted local
	// state. Sync refuses to proceed until a human resolves it.
	ErrDirtyCheckout = errors.New("dirty checkout")

	// ErrNotHolder indicates a write operation was attempted with a ticket
	// that does not hold the lock.
	ErrNotHolder = errors.New("ticket does not hold the write lock")

	// ErrNoCheckout indicates the shared checkout directory is missing or
	// is not a repository.
	ErrNoCheckout = errors.New("shared checkout not found")
)
