package post

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PGStore implements Store using PostgreSQL. All queries are parameterized;
// ownership checks run inside the same transaction as the mutation so a stale
// caller-side lookup cannot bypass them.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PGStore)(nil)

// PGOption configures the store.
type PGOption func(*PGStore)

// WithPGClock overrides the time source. Intended for tests.
func WithPGClock(now func() time.Time) PGOption {
	return func(s *PGStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB, opts ...PGOption) *PGStore {
	s := &PGStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PGStore) Create(ctx context.Context, author, channel, content, postType, attachment string) (*Post, error) {
	p := &Post{
		UID:        uuid.NewString(),
		Author:     author,
		CreatedAt:  s.now().UTC(),
		Content:    content,
		Channel:    channel,
		Type:       postType,
		Attachment: attachment,
	}
	_, err := s.db.ExecContext(ctx,
		`insert into posts(uid, author, created_at, content, is_deleted, channel, post_type, attachment)
		 values($1,$2,$3,$4,false,$5,$6,$7)`,
		p.UID, p.Author, p.CreatedAt, p.Content, p.Channel, p.Type, p.Attachment,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PGStore) Find(ctx context.Context, uid string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`select uid, author, created_at, content, is_deleted, channel, post_type, attachment, edited_at
		 from posts where uid=$1`, uid)
	return scanPost(row)
}

func (s *PGStore) SoftDelete(ctx context.Context, uid, requester string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var author string
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`select author, is_deleted from posts where uid=$1 for update`, uid).Scan(&author, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if author != requester {
		return ErrNotAuthorized
	}
	if !deleted {
		if _, err := tx.ExecContext(ctx,
			`update posts set is_deleted=true where uid=$1`, uid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) Edit(ctx context.Context, uid, requester, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var author string
	err = tx.QueryRowContext(ctx,
		`select author from posts where uid=$1 for update`, uid).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if author != requester {
		return ErrNotAuthorized
	}
	if _, err := tx.ExecContext(ctx,
		`update posts set content=$2, edited_at=$3 where uid=$1`,
		uid, content, s.now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) Latest(ctx context.Context, channel string, limit int) ([]Post, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `
		select uid, author, created_at, content, is_deleted, channel, post_type, attachment, edited_at
		from (
			select * from posts
			where channel=$1 and not is_deleted
			order by created_at desc
			limit $2
		) latest
		order by created_at asc
	`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func (s *PGStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		p          Post
		attachment sql.NullString
		editedAt   sql.NullTime
	)
	err := row.Scan(&p.UID, &p.Author, &p.CreatedAt, &p.Content, &p.Deleted,
		&p.Channel, &p.Type, &attachment, &editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if attachment.Valid {
		p.Attachment = attachment.String
	}
	if editedAt.Valid {
		t := editedAt.Time
		p.EditedAt = &t
	}
	return &p, nil
}
