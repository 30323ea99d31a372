package post

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Store in process memory, keyed by uid.
type Memory struct {
	mu    sync.RWMutex
	posts map[string]*Post
	now   func() time.Time
}

var _ Store = (*Memory)(nil)

// MemoryOption configures the store.
type MemoryOption func(*Memory)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		posts: make(map[string]*Post),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Create(ctx context.Context, author, channel, content, postType, attachment string) (*Post, error) {
	p := &Post{
		UID:        uuid.NewString(),
		Author:     author,
		CreatedAt:  m.now().UTC(),
		Content:    content,
		Channel:    channel,
		Type:       postType,
		Attachment: attachment,
	}
	m.mu.Lock()
	m.posts[p.UID] = p
	m.mu.Unlock()
	out := *p
	return &out, nil
}

func (m *Memory) Find(ctx context.Context, uid string) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[uid]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *Memory) SoftDelete(ctx context.Context, uid, requester string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[uid]
	if !ok {
		return ErrNotFound
	}
	if p.Author != requester {
		return ErrNotAuthorized
	}
	p.Deleted = true
	return nil
}

func (m *Memory) Edit(ctx context.Context, uid, requester, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[uid]
	if !ok {
		return ErrNotFound
	}
	if p.Author != requester {
		return ErrNotAuthorized
	}
	p.Content = content
	at := m.now().UTC()
	p.EditedAt = &at
	return nil
}

func (m *Memory) Latest(ctx context.Context, channel string, limit int) ([]Post, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	m.mu.RLock()
	var res []Post
	for _, p := range m.posts {
		if p.Channel == channel && !p.Deleted {
			res = append(res, *p)
		}
	}
	m.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (m *Memory) Close() error { return nil }
