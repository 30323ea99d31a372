package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGInsertDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// on conflict do nothing: zero rows affected means the username is taken.
	mock.ExpectExec("insert into accounts").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPGStore(db)
	err = s.Insert(context.Background(), &Account{Username: "alice", PasswordHash: "x"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGInsertCaseVariantDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// The conflict target must be the lower(username) expression index so that
	// "Alice" collides with an existing "alice", matching the memory store.
	mock.ExpectExec(`insert into accounts.*on conflict \(lower\(username\)\) do nothing`).
		WithArgs("Alice", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPGStore(db)
	err = s.Insert(context.Background(), &Account{Username: "Alice", PasswordHash: "x"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"username", "created_at", "uid", "banned", "quote", "avatar_id",
		"lastseen", "badges", "flags", "password_hash",
	}).AddRow("alice", created, "uid-1", false, "hello", "av-9", created,
		[]byte(`["early-bird"]`), []byte(`[]`), "hash")

	mock.ExpectQuery("select .* from accounts").WithArgs("alice").WillReturnRows(rows)

	s := NewPGStore(db)
	a, err := s.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if a.UID != "uid-1" || a.Quote != "hello" {
		t.Fatalf("unexpected account: %+v", a)
	}
	if len(a.Badges) != 1 || a.Badges[0] != "early-bird" {
		t.Fatalf("badges not decoded: %v", a.Badges)
	}
}

func TestPGFindByUsernameNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from accounts").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	s := NewPGStore(db)
	if _, err := s.FindByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUpdateLastSeenUnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts set lastseen").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPGStore(db)
	if err := s.UpdateLastSeen(context.Background(), "ghost", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
