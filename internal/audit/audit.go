// Package audit is the append-only action ledger. Entries are written as one
// JSON object per line and are never mutated or deleted after creation. The
// core only writes; reading the ledger is an offline concern.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"oceania.org/internal/ids"
)

// Entry is one ledger record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action_kind"`
	User      string    `json:"user"`
	Detail    string    `json:"detail"`
}

// Ledger is the write side of the audit log. A failed write is reported to the
// caller, who downgrades it to a warning; it never aborts a command.
type Ledger interface {
	Log(action, user, detail string) error
}

// FileLedger appends entries to a file.
type FileLedger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

var _ Ledger = (*FileLedger)(nil)

// Option configures the ledger.
type Option func(*FileLedger)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FileLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// Open opens (creating if needed) the ledger file in append-only mode.
func Open(path string, opts ...Option) (*FileLedger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := &FileLedger{file: f, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Log appends one entry.
func (l *FileLedger) Log(action, user, detail string) error {
	entry := Entry{
		ID:        ids.New(),
		Timestamp: l.now().UTC(),
		Action:    action,
		User:      user,
		Detail:    detail,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
