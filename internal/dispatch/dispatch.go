// Package dispatch is the command core: a per-connection state machine that
// gates, parses and executes inbound commands against the shared stores, the
// audit ledger and the broadcast hub. Every command ends in exactly one
// terminal outcome (a response or deliberate silence, plus one audit entry),
// and no failure on one connection ever reaches another.
package dispatch

import (
	"context"
	"errors"
	"io"
	"time"

	"oceania.org/internal/account"
	"oceania.org/internal/audit"
	"oceania.org/internal/fanout"
	"oceania.org/internal/moderation"
	"oceania.org/internal/obs"
	"oceania.org/internal/post"
	"oceania.org/internal/ratelimit"
	"oceania.org/internal/session"
)

// Outcome labels for metrics.
const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeRejected    = "rejected"
	outcomeDenied      = "denied"
	outcomeNotFound    = "not_found"
	outcomeError       = "error"
)

// Sender is the hub surface the dispatcher needs.
type Sender interface {
	Unicast(connID string, evt fanout.Event) error
	Multicast(evt fanout.Event)
}

// Notifier relays created posts to the external bridge.
type Notifier interface {
	Notify(author, content, uid string)
}

// Deps are the collaborators a Core coordinates.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Registry   *session.Registry
	Accounts   *account.Service
	Posts      post.Store
	Moderation moderation.Pipeline
	Ledger     audit.Ledger
	Hub        Sender
	Tokens     *account.TokenIssuer
	Bridge     Notifier // optional
}

// Core is the command dispatcher.
type Core struct {
	deps Deps

	defaultChannel string
	pageSize       int
	now            func() time.Time
}

// Option configures the core.
type Option func(*Core)

// WithDefaultChannel sets the channel posts land on.
func WithDefaultChannel(channel string) Option {
	return func(c *Core) {
		if channel != "" {
			c.defaultChannel = channel
		}
	}
}

// WithPageSize sets the retrieve page size.
func WithPageSize(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs the dispatcher core.
func New(deps Deps, opts ...Option) *Core {
	c := &Core{
		deps:           deps,
		defaultChannel: "home",
		pageSize:       post.DefaultPageSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect registers a fresh unauthenticated session for the connection.
func (c *Core) Connect(connID, username string) {
	c.deps.Registry.Connect(connID, username)
	obs.Info("client connected", map[string]any{"conn": connID, "username": username})
}

// Disconnect tears down per-connection state. The session and its rate bucket
// are both dropped.
func (c *Core) Disconnect(connID string) {
	c.deps.Registry.Disconnect(connID)
	c.deps.Limiter.Release(connID)
	obs.Info("client disconnected", map[string]any{"conn": connID})
}

// Bridged multicasts a message relayed inbound from the external bridge.
func (c *Core) Bridged(author, content string) {
	c.deps.Hub.Multicast(bridgedEvent(author, content))
}

// Shutdown closes the stores and the ledger. In-flight commands are not
// cancelled; callers stop feeding Handle before invoking this.
func (c *Core) Shutdown(ctx context.Context) error {
	var errs []error
	if closer, ok := c.deps.Bridge.(interface{ Close() }); ok && closer != nil {
		closer.Close()
	}
	c.deps.Limiter.Close()
	if err := c.deps.Posts.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.deps.Accounts.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := c.deps.Ledger.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handle processes one inbound envelope for the connection. It never returns
// an error and never panics across command boundaries: every failure is
// converted to a response plus an audit entry right here.
func (c *Core) Handle(ctx context.Context, connID string, raw []byte) {
	start := c.now()
	username, _ := c.deps.Registry.UsernameOf(connID)

	if !c.deps.Limiter.Acquire(connID) {
		c.send(connID, statusEvent(msgRateLimited, username))
		c.audit("ratelimit", username, "command denied by rate limiter")
		obs.ObserveCommand("ratelimit", outcomeRateLimited, c.now().Sub(start))
		return
	}

	cmd, err := parseCommand(raw)
	if err != nil {
		// Validation failures are dropped silently: log only, no response.
		obs.Warn("dropping malformed envelope", map[string]any{"conn": connID, "err": err.Error()})
		obs.ObserveCommand("invalid", outcomeError, c.now().Sub(start))
		return
	}

	var outcome string
	switch cmd.kind {
	case kindAuth:
		outcome = c.handleAuth(ctx, connID, username, cmd.auth)
	case kindGenAccount:
		outcome = c.handleGenAccount(ctx, connID, cmd.gen)
	case kindPostSend:
		outcome = c.handleSend(ctx, connID, cmd.post)
	case kindPostDelete:
		outcome = c.handleDelete(ctx, connID, cmd.post)
	case kindPostEdit:
		outcome = c.handleEdit(ctx, connID, cmd.post)
	case kindRetrieve:
		outcome = c.handleRetrieve(ctx, connID, username, cmd.retrieve)
	}
	obs.ObserveCommand(cmd.kind, outcome, c.now().Sub(start))
}

func (c *Core) handleAuth(ctx context.Context, connID, username string, p authPayload) string {
	if username == "" {
		c.send(connID, statusEvent(msgUserNotFound, ""))
		c.audit("auth_fail", "", "connection has no claimed username")
		return outcomeDenied
	}
	acct, err := c.deps.Accounts.Verify(ctx, username, p.Password)
	switch {
	case errors.Is(err, account.ErrNotFound):
		c.send(connID, statusEvent(msgUserNotFound, username))
		c.audit("auth_fail", username, "unknown username")
		return outcomeNotFound
	case errors.Is(err, account.ErrInvalidCredential):
		c.send(connID, statusEvent(msgInvalidPassword, username))
		c.audit("auth_fail", username, "password mismatch")
		return outcomeDenied
	case errors.Is(err, account.ErrBanned):
		c.send(connID, statusEvent(msgAccountBanned, username))
		c.audit("auth_fail", username, "account banned")
		return outcomeDenied
	case err != nil:
		obs.Error("account verify failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("auth_fail", username, "store failure: "+err.Error())
		return outcomeError
	}

	token, err := c.deps.Tokens.Issue(acct.Username)
	if err != nil {
		obs.Error("token issue failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("auth_fail", username, "token issue failure")
		return outcomeError
	}
	c.deps.Registry.Authenticate(connID, acct.Username)
	c.send(connID, authEvent(token, acct.Username))
	c.audit("auth", acct.Username, "logged in")
	return outcomeOK
}

func (c *Core) handleGenAccount(ctx context.Context, connID string, p genAccountPayload) string {
	acct, err := c.deps.Accounts.Create(ctx, p.Username, p.Password)
	switch {
	case errors.Is(err, account.ErrAlreadyExists):
		c.send(connID, statusEvent(msgUsernameTaken, p.Username))
		c.audit("create_account_fail", p.Username, "username already exists")
		return outcomeDenied
	case err != nil:
		// Any unexpected local failure recovers here; the dispatcher keeps
		// serving other commands.
		obs.Error("account create failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, p.Username))
		c.audit("create_account_fail", p.Username, "store failure: "+err.Error())
		return outcomeError
	}
	c.send(connID, welcomeEvent(acct.Username))
	c.audit("created_account", acct.Username, "account created")
	return outcomeOK
}

func (c *Core) handleSend(ctx context.Context, connID string, p postPayload) string {
	username, ok := c.requireAuth(connID, "post_fail")
	if !ok {
		return outcomeDenied
	}

	res := c.deps.Moderation.Review(ctx, p.Content)
	if res.Status == moderation.StatusRejected {
		c.send(connID, moderationEvent(res.Reason, p.Content))
		c.audit("post_fail", username, "moderation rejected: "+res.Reason)
		return outcomeRejected
	}

	created, err := c.deps.Posts.Create(ctx, username, c.defaultChannel, res.Text, p.Type, p.Attachment)
	if err != nil {
		obs.Error("post create failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("post_fail", username, "store failure: "+err.Error())
		return outcomeError
	}

	c.deps.Hub.Multicast(postCreatedEvent(created.Author, created.Content, created.UID, created.Attachment))
	c.audit("post", username, "posted "+created.UID)
	if c.deps.Bridge != nil {
		c.deps.Bridge.Notify(created.Author, created.Content, created.UID)
	}
	return outcomeOK
}

func (c *Core) handleDelete(ctx context.Context, connID string, p postPayload) string {
	username, ok := c.requireAuth(connID, "delete_fail")
	if !ok {
		return outcomeDenied
	}

	err := c.deps.Posts.SoftDelete(ctx, p.UID, username)
	switch {
	case errors.Is(err, post.ErrNotFound):
		c.send(connID, statusEvent(msgPostNotFound, username))
		c.audit("delete_fail", username, "post not found: "+p.UID)
		return outcomeNotFound
	case errors.Is(err, post.ErrNotAuthorized):
		c.send(connID, statusEvent(msgNotAuthorized, username))
		c.audit("delete_fail", username, "not the author of "+p.UID)
		return outcomeDenied
	case err != nil:
		obs.Error("post delete failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("delete_fail", username, "store failure: "+err.Error())
		return outcomeError
	}

	c.deps.Hub.Multicast(postDeletedEvent(p.UID))
	c.audit("delete", username, "deleted "+p.UID)
	return outcomeOK
}

func (c *Core) handleEdit(ctx context.Context, connID string, p postPayload) string {
	username, ok := c.requireAuth(connID, "edit_fail")
	if !ok {
		return outcomeDenied
	}

	existing, err := c.deps.Posts.Find(ctx, p.UID)
	switch {
	case errors.Is(err, post.ErrNotFound):
		c.send(connID, statusEvent(msgPostNotFound, username))
		c.audit("edit_fail", username, "post not found: "+p.UID)
		return outcomeNotFound
	case err != nil:
		obs.Error("post lookup failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("edit_fail", username, "store failure: "+err.Error())
		return outcomeError
	}
	if existing.Author != username {
		c.send(connID, statusEvent(msgNotAuthorized, username))
		c.audit("edit_fail", username, "not the author of "+p.UID)
		return outcomeDenied
	}

	res := c.deps.Moderation.Review(ctx, p.Edit)
	if res.Status == moderation.StatusRejected {
		c.send(connID, moderationEvent(res.Reason, p.Edit))
		c.audit("edit_fail", username, "moderation rejected: "+res.Reason)
		return outcomeRejected
	}

	// The store re-checks ownership; the lookup above may have gone stale
	// across the moderation call.
	err = c.deps.Posts.Edit(ctx, p.UID, username, res.Text)
	switch {
	case errors.Is(err, post.ErrNotFound):
		c.send(connID, statusEvent(msgPostNotFound, username))
		c.audit("edit_fail", username, "post not found: "+p.UID)
		return outcomeNotFound
	case errors.Is(err, post.ErrNotAuthorized):
		c.send(connID, statusEvent(msgNotAuthorized, username))
		c.audit("edit_fail", username, "not the author of "+p.UID)
		return outcomeDenied
	case err != nil:
		obs.Error("post edit failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("edit_fail", username, "store failure: "+err.Error())
		return outcomeError
	}

	c.deps.Hub.Multicast(postEditedEvent(p.UID, res.Text))
	c.audit("edit", username, "edited "+p.UID)
	return outcomeOK
}

func (c *Core) handleRetrieve(ctx context.Context, connID, username string, p retrievePayload) string {
	channel := p.Channel
	if channel == "" {
		channel = c.defaultChannel
	}
	// Offsets beyond the fixed page are not supported; the page size caps the
	// result regardless of the requested offset.
	posts, err := c.deps.Posts.Latest(ctx, channel, c.pageSize)
	if err != nil {
		obs.Error("post retrieve failed", map[string]any{"conn": connID, "err": err.Error()})
		c.send(connID, statusEvent(msgInternalError, username))
		c.audit("retrieve_fail", username, "store failure: "+err.Error())
		return outcomeError
	}
	c.send(connID, postsEvent(posts))
	c.audit("retrieve", username, "retrieved latest for "+channel)
	return outcomeOK
}

// requireAuth resolves the authenticated username or sends the standard
// refusal, auditing under the given action kind.
func (c *Core) requireAuth(connID, failAction string) (string, bool) {
	username, _ := c.deps.Registry.UsernameOf(connID)
	if !c.deps.Registry.IsAuthenticated(connID) {
		c.send(connID, statusEvent(msgNotAuthenticated, username))
		c.audit(failAction, username, "not authenticated")
		return "", false
	}
	return username, true
}

// send unicasts to the origin connection. Delivery failures are the sender's
// problem, not the command's.
func (c *Core) send(connID string, evt fanout.Event) {
	if err := c.deps.Hub.Unicast(connID, evt); err != nil {
		obs.Warn("unicast failed", map[string]any{"conn": connID, "cmd": evt.Cmd, "err": err.Error()})
	}
}

// audit appends one ledger entry, downgrading a ledger failure to a warning so
// it never aborts the in-flight command.
func (c *Core) audit(action, user, detail string) {
	if err := c.deps.Ledger.Log(action, user, detail); err != nil {
		obs.Warn("audit write failed", map[string]any{"action": action, "err": err.Error()})
	}
}
