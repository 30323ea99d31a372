package post

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("post: not found")
	ErrNotAuthorized = errors.New("post: not authorized")
)

// DefaultPageSize bounds how many posts a latest query returns.
const DefaultPageSize = 20

// Post is the durable post record. Deletion is a flag; records are never
// physically removed.
type Post struct {
	UID        string     `json:"uid"`
	Author     string     `json:"author"`
	CreatedAt  time.Time  `json:"created_at"`
	Content    string     `json:"content"`
	Deleted    bool       `json:"isDeleted"`
	Channel    string     `json:"channel"`
	Type       string     `json:"type"`
	Attachment string     `json:"attachment,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
}
