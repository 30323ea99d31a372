package account

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory implements Store in process memory, keyed by username.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*Account)}
}

func (m *Memory) Insert(ctx context.Context, a *Account) error {
	key := strings.ToLower(a.Username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[key]; ok {
		return ErrAlreadyExists
	}
	m.accounts[key] = a.clone()
	return nil
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (m *Memory) UpdateLastSeen(ctx context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[strings.ToLower(username)]
	if !ok {
		return ErrNotFound
	}
	a.LastSeen = at
	return nil
}

func (m *Memory) Close() error { return nil }
