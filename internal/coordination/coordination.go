// Package coordination defines the Coordination Service contract: a named
// lease (mutual-exclusion lock with bounded wait and TTL) and a
// set-if-absent key with TTL, used for cross-process deduplication.
//
// Any backend satisfying this interface suffices — an in-process map
// (memcoord), an HTTP-backed service (coordclient), Redis, or etcd all work
// equally well from the caller's perspective.
package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned by AcquireLock when the lock could not be
// acquired within the bounded wait.
var ErrLockTimeout = errors.New("coordination: lock not acquired within wait")

// Lock represents a held named lease. It must be released on every exit
// path of the caller, including error paths.
type Lock interface {
	// Release gives up the lease. Release errors are not actionable (the
	// lease may have already expired under its TTL) and callers should log
	// and ignore them rather than fail the task.
	Release(ctx context.Context) error
}

// Coordination is the contract the crawler depends on for cross-process
// mutual exclusion and deduplication. It does not interpret the names or
// keys it is given; callers are responsible for namespacing.
type Coordination interface {
	// AcquireLock blocks up to wait for exclusive ownership of name. The
	// lease expires after ttl regardless of whether Release is called,
	// bounding the damage of a holder that crashes without releasing.
	// Returns ErrLockTimeout if wait elapses without acquiring the lease.
	AcquireLock(ctx context.Context, name string, wait, ttl time.Duration) (Lock, error)

	// SetIfAbsent atomically sets key to value with the given TTL only if
	// key does not currently exist (or has expired). Returns true if this
	// call set the key, false if an unexpired value was already present.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Clear deletes key unconditionally. Deleting an absent key is not an
	// error.
	Clear(ctx context.Context, key string) error
}
