package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultTTL = 5 * time.Minute

// Limiter is a per-connection token-bucket admission gate. Buckets are created
// lazily at full capacity on the first Acquire for a connection, refill at
// capacity/window tokens per second and never exceed capacity. Acquire never
// blocks, and a denial changes no state other than the bucket itself.
type Limiter struct {
	capacity int
	window   time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Option configures the limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTTL overrides how long an idle bucket survives before the sweep evicts it.
func WithTTL(ttl time.Duration) Option {
	return func(l *Limiter) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a limiter admitting capacity commands per window per connection.
func New(capacity int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		window:   window,
		ttl:      defaultTTL,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// Acquire admits the command if the connection's bucket holds at least one
// token, consuming it. The bucket is created at full capacity when absent.
func (l *Limiter) Acquire(id string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{
			lim: rate.NewLimiter(rate.Limit(float64(l.capacity)/l.window.Seconds()), l.capacity),
		}
		l.buckets[id] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Release drops the bucket for a disconnected connection.
func (l *Limiter) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, id)
}

// Len reports how many buckets are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// sweepLoop evicts buckets idle longer than the TTL so memory stays bounded
// even when the transport never reports a disconnect.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, id)
		}
	}
}
