package post

import "context"

// Store describes the post persistence operations. Content mutation and
// deletion are permitted only for the authoring account; implementations
// enforce the ownership check themselves so that it holds even when the
// caller's earlier lookup has gone stale.
type Store interface {
	// Create persists a new post with a fresh unique uid and timestamp.
	Create(ctx context.Context, author, channel, content, postType, attachment string) (*Post, error)
	// Find returns the post or ErrNotFound, deleted or not.
	Find(ctx context.Context, uid string) (*Post, error)
	// SoftDelete flags the post deleted. Deleting an already-deleted post is a
	// no-op. Fails with ErrNotFound or, when requester is not the author,
	// ErrNotAuthorized.
	SoftDelete(ctx context.Context, uid, requester string) error
	// Edit replaces the content and stamps edited_at, under the same ownership
	// rule as SoftDelete.
	Edit(ctx context.Context, uid, requester, content string) error
	// Latest returns up to limit most recent non-deleted posts for the
	// channel, ordered ascending by creation time.
	Latest(ctx context.Context, channel string, limit int) ([]Post, error)
	Close() error
}
