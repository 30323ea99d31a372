package account

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("account: not found")
	ErrAlreadyExists     = errors.New("account: already exists")
	ErrInvalidCredential = errors.New("account: invalid credential")
	ErrInvalidInput      = errors.New("account: invalid input")
	ErrBanned            = errors.New("account: banned")
)

// Account is the durable account record. PasswordHash is write-only within the
// core: it is never serialized into events or log output.
type Account struct {
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"creation_date"`
	UID          string    `json:"uid"`
	Banned       bool      `json:"banned"`
	Quote        string    `json:"quote"`
	AvatarID     string    `json:"avatar_id"`
	LastSeen     time.Time `json:"lastseen"`
	Badges       []string  `json:"badges"`
	Flags        []string  `json:"flags"`
	PasswordHash string    `json:"-"`
}

// clone returns a copy safe to hand to callers.
func (a *Account) clone() *Account {
	out := *a
	out.Badges = append([]string(nil), a.Badges...)
	out.Flags = append([]string(nil), a.Flags...)
	return &out
}
