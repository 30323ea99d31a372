// Package bridge relays created posts to an external messaging system. The
// relay runs detached from the dispatch path: notifications go onto a bounded
// queue and a worker delivers them with a per-delivery timeout, so a slow or
// dead endpoint can never stall message delivery to local clients.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"oceania.org/internal/obs"
)

const (
	defaultQueueSize = 64
	defaultTimeout   = 5 * time.Second
)

// Notification is one outbound post relayed to the bridge.
type Notification struct {
	Author  string `json:"author"`
	Content string `json:"post_content"`
	UID     string `json:"uid"`
}

// Notifier posts notifications to the bridge endpoint.
type Notifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Notification
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures the notifier.
type Option func(*Notifier)

// WithQueueSize bounds the pending-notification queue.
func WithQueueSize(n int) Option {
	return func(b *Notifier) {
		if n > 0 {
			b.queue = make(chan Notification, n)
		}
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(b *Notifier) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Notifier) {
		if c != nil {
			b.client = c
		}
	}
}

// NewNotifier creates a notifier and starts its delivery worker.
func NewNotifier(endpoint string, opts ...Option) *Notifier {
	b := &Notifier{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  defaultTimeout,
		queue:    make(chan Notification, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.deliverLoop()
	return b
}

// Notify enqueues a notification without blocking. When the queue is full, or
// the notifier is already closed, the notification is dropped and counted; the
// caller's command is unaffected either way.
func (b *Notifier) Notify(author, content, uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		obs.BridgeDrop()
		obs.Warn("bridge closed, notification dropped", map[string]any{"uid": uid})
		return
	}
	select {
	case b.queue <- Notification{Author: author, Content: content, UID: uid}:
		obs.BridgeQueue(len(b.queue))
	default:
		obs.BridgeDrop()
		obs.Warn("bridge queue full, notification dropped", map[string]any{"uid": uid})
	}
}

// Close stops accepting notifications, drains the queue and waits for the
// worker to finish. The queue is closed under the same lock Notify sends
// under, so a racing Notify either enqueues first or sees the closed flag.
func (b *Notifier) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	b.wg.Wait()
}

func (b *Notifier) deliverLoop() {
	defer b.wg.Done()
	for n := range b.queue {
		obs.BridgeQueue(len(b.queue))
		if err := b.deliver(n); err != nil {
			obs.Warn("bridge delivery failed", map[string]any{"uid": n.UID, "err": err.Error()})
		}
	}
}

func (b *Notifier) deliver(n Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
