package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGStore implements Store using PostgreSQL. All queries are parameterized.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, a *Account) error {
	badges, _ := json.Marshal(a.Badges)
	flags, _ := json.Marshal(a.Flags)
	// Uniqueness is case-insensitive; the conflict target is the expression
	// index on lower(username), matching what the memory store keys on.
	res, err := s.db.ExecContext(ctx,
		`insert into accounts(username, created_at, uid, banned, quote, avatar_id, lastseen, badges, flags, password_hash)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 on conflict (lower(username)) do nothing`,
		a.Username, a.CreatedAt, a.UID, a.Banned, a.Quote, a.AvatarID, a.LastSeen, badges, flags, a.PasswordHash,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PGStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select username, created_at, uid, banned, quote, avatar_id, lastseen, badges, flags, password_hash
		 from accounts where lower(username)=lower($1)`, username)
	var (
		a             Account
		badges, flags []byte
	)
	if err := row.Scan(&a.Username, &a.CreatedAt, &a.UID, &a.Banned, &a.Quote, &a.AvatarID,
		&a.LastSeen, &badges, &flags, &a.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(badges, &a.Badges)
	_ = json.Unmarshal(flags, &a.Flags)
	return &a, nil
}

func (s *PGStore) UpdateLastSeen(ctx context.Context, username string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set lastseen=$2 where lower(username)=lower($1)`, username, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Close() error { return s.db.Close() }
