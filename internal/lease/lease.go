// Package lease provides short-lived per-shape mutation leases so
// concurrent AI commands do not interleave read-modify-write cycles on the
// same shape. Leases are advisory: human edits never take them.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultTTL = 5 * time.Second

var ErrHeld = errors.New("lease held")

// Lease is proof of holding the lock on one shape id. Token identifies
// the holder so only it can release.
type Lease struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

type Manager interface {
	// Acquire fails with ErrHeld while an unexpired lease exists for id.
	Acquire(ctx context.Context, id string) (Lease, error)
	// Release drops l if it is still the current lease for its id.
	Release(ctx context.Context, l Lease) error
}

// ContentionError is returned once every attempt to take the leases for
// a command found one of them held.
type ContentionError struct {
	IDs      []string
	Attempts int
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("shapes busy after %d attempts: %s", e.Attempts, strings.Join(e.IDs, ", "))
}

func (e *ContentionError) Unwrap() error {
	return ErrHeld
}

func IsContention(err error) bool {
	return errors.Is(err, ErrHeld)
}
