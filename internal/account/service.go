package account

import (
	"context"
	"strings"
	"time"

	"oceania.org/internal/ids"
)

// Service implements credential creation and verification on top of a Store.
// Plaintext passwords exist only inside these two calls; they are never stored,
// returned or logged.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new account. The username must be unused.
func (s *Service) Create(ctx context.Context, username, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &Account{
		Username:     username,
		CreatedAt:    now,
		UID:          ids.New(),
		LastSeen:     now,
		PasswordHash: hash,
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Verify checks credentials and returns the account identity. Banned accounts
// are refused even with a correct password.
func (s *Service) Verify(ctx context.Context, username, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredential
	}
	a, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if a.Banned {
		return nil, ErrBanned
	}
	if err := VerifyPassword(a.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredential
	}
	// Best effort; a failed bump must not fail the login.
	_ = s.store.UpdateLastSeen(ctx, a.Username, s.now().UTC())
	return a, nil
}

// Close releases the underlying store.
func (s *Service) Close() error { return s.store.Close() }
