package account

import (
	"context"
	"time"
)

// Store describes persistence operations required by the account service.
type Store interface {
	// Insert persists a new record, failing with ErrAlreadyExists when the
	// username is taken.
	Insert(ctx context.Context, a *Account) error
	// FindByUsername returns the record or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// UpdateLastSeen bumps the lastseen timestamp.
	UpdateLastSeen(ctx context.Context, username string, at time.Time) error
	Close() error
}
