// Package lock serialises mints per certificate so at most one ledger mint
// is in flight for a given certificate.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock is still held after the wait.
var ErrNotAcquired = errors.New("mint lock not acquired")

// Locker acquires a named lock. The returned release is safe to call more
// than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
