package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"oceania.org/internal/account"
	"oceania.org/internal/fanout"
	"oceania.org/internal/moderation"
	"oceania.org/internal/post"
	"oceania.org/internal/ratelimit"
	"oceania.org/internal/session"
)

type ledgerEntry struct {
	action, user, detail string
}

type memLedger struct {
	mu      sync.Mutex
	entries []ledgerEntry
}

func (l *memLedger) Log(action, user, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ledgerEntry{action, user, detail})
	return nil
}

func (l *memLedger) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.action
	}
	return out
}

type bridgeNote struct {
	author, content, uid string
}

type memBridge struct {
	mu    sync.Mutex
	notes []bridgeNote
}

func (b *memBridge) Notify(author, content, uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, bridgeNote{author, content, uid})
}

type rejectAll struct{ reason string }

func (r rejectAll) Review(ctx context.Context, text string) moderation.Result {
	return moderation.Rejected(r.reason)
}

type fixture struct {
	core     *Core
	hub      *fanout.Hub
	registry *session.Registry
	ledger   *memLedger
	posts    *post.Memory
	accounts *account.Memory
}

// newFixture wires a core over in-memory collaborators. mod may adjust the
// dependency set before construction.
func newFixture(t *testing.T, mod func(*Deps), opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		hub:      fanout.NewHub(),
		registry: session.NewRegistry(),
		ledger:   &memLedger{},
		posts:    post.NewMemory(),
		accounts: account.NewMemory(),
	}
	lim := ratelimit.New(100, time.Second)
	t.Cleanup(lim.Close)
	tokens, err := account.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	deps := Deps{
		Limiter:    lim,
		Registry:   f.registry,
		Accounts:   account.NewService(f.accounts),
		Posts:      f.posts,
		Moderation: moderation.NewFilter(nil),
		Ledger:     f.ledger,
		Hub:        f.hub,
		Tokens:     tokens,
	}
	if mod != nil {
		mod(&deps)
	}
	f.core = New(deps, opts...)
	return f
}

// join connects the session and subscribes its event channel.
func (f *fixture) join(t *testing.T, connID, username string) <-chan fanout.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := f.hub.Subscribe(ctx, connID)
	f.core.Connect(connID, username)
	return ch
}

// signup runs genaccount followed by auth for the connection and drains the
// resulting events.
func (f *fixture) signup(t *testing.T, ch <-chan fanout.Event, connID, username, password string) {
	t.Helper()
	f.core.Handle(context.Background(), connID, direct(t, "genaccount", map[string]any{
		"username": username, "pswd": password,
	}))
	f.core.Handle(context.Background(), connID, direct(t, "auth", map[string]any{"pswd": password}))
	evts := drain(ch)
	if len(evts) != 2 || evts[0].Cmd != "welcome" || evts[1].Cmd != "auth" {
		t.Fatalf("signup did not produce welcome+auth: %+v", evts)
	}
}

func direct(t *testing.T, sub string, val any) []byte {
	t.Helper()
	inner, err := json.Marshal(map[string]any{"cmd": sub, "val": val})
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	raw, err := json.Marshal(map[string]any{"cmd": "direct", "val": json.RawMessage(inner)})
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}
	return raw
}

// drain empties the buffered channel. Handle is synchronous, so everything a
// command produced is already queued when it returns.
func drain(ch <-chan fanout.Event) []fanout.Event {
	var out []fanout.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func val(t *testing.T, evt fanout.Event) map[string]any {
	t.Helper()
	m, ok := evt.Val.(map[string]any)
	if !ok {
		t.Fatalf("event val is not a map: %+v", evt)
	}
	return m
}

func TestSignupAuthPostFlow(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")

	f.core.Handle(context.Background(), "c1", direct(t, "genaccount", map[string]any{
		"username": "alice", "pswd": "pw1",
	}))
	evts := drain(alice)
	if len(evts) != 1 || evts[0].Cmd != "welcome" {
		t.Fatalf("expected welcome, got %+v", evts)
	}

	f.core.Handle(context.Background(), "c1", direct(t, "auth", map[string]any{"pswd": "pw1"}))
	evts = drain(alice)
	if len(evts) != 1 || evts[0].Cmd != "auth" {
		t.Fatalf("expected auth event, got %+v", evts)
	}
	v := val(t, evts[0])
	if v["token"] == "" || v["username"] != "alice" {
		t.Fatalf("unexpected auth payload: %v", v)
	}
	if !f.registry.IsAuthenticated("c1") {
		t.Fatal("session must be authenticated after auth")
	}

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "hello everyone",
	}))
	for name, ch := range map[string]<-chan fanout.Event{"alice": alice, "bob": bob} {
		evts = drain(ch)
		if len(evts) != 1 || evts[0].Cmd != "rpost" {
			t.Fatalf("%s: expected rpost, got %+v", name, evts)
		}
		v = val(t, evts[0])
		if v["author"] != "alice" || v["post_content"] != "hello everyone" {
			t.Fatalf("%s: unexpected rpost payload: %v", name, v)
		}
	}

	want := []string{"created_account", "auth", "post"}
	got := f.ledger.actions()
	if len(got) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, got)
		}
	}
}

func TestAuthFailures(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "alice")

	// Unknown username.
	f.core.Handle(context.Background(), "c1", direct(t, "auth", map[string]any{"pswd": "pw1"}))
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Cmd != "status" || val(t, evts[0])["message"] != msgUserNotFound {
		t.Fatalf("expected user-not-found status, got %+v", evts)
	}
	if f.registry.IsAuthenticated("c1") {
		t.Fatal("failed auth must not authenticate")
	}

	// Wrong password.
	f.core.Handle(context.Background(), "c1", direct(t, "genaccount", map[string]any{
		"username": "alice", "pswd": "pw1",
	}))
	drain(ch)
	f.core.Handle(context.Background(), "c1", direct(t, "auth", map[string]any{"pswd": "wrong"}))
	evts = drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgInvalidPassword {
		t.Fatalf("expected invalid-password status, got %+v", evts)
	}
	if f.registry.IsAuthenticated("c1") {
		t.Fatal("failed auth must not authenticate")
	}

	got := f.ledger.actions()
	if got[0] != "auth_fail" || got[len(got)-1] != "auth_fail" {
		t.Fatalf("expected auth_fail entries, got %v", got)
	}
}

func TestAuthBannedAccount(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "troll")

	hash, err := account.HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := f.accounts.Insert(context.Background(), &account.Account{
		Username: "troll", Banned: true, PasswordHash: hash,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	f.core.Handle(context.Background(), "c1", direct(t, "auth", map[string]any{"pswd": "pw1"}))
	evts := drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgAccountBanned {
		t.Fatalf("expected banned status, got %+v", evts)
	}
	if f.registry.IsAuthenticated("c1") {
		t.Fatal("banned account must not authenticate")
	}
}

func TestGenAccountDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "alice")

	f.core.Handle(context.Background(), "c1", direct(t, "genaccount", map[string]any{
		"username": "alice", "pswd": "pw1",
	}))
	drain(ch)
	f.core.Handle(context.Background(), "c1", direct(t, "genaccount", map[string]any{
		"username": "alice", "pswd": "other",
	}))
	evts := drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgUsernameTaken {
		t.Fatalf("expected username-taken status, got %+v", evts)
	}
}

func TestSendRequiresAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "alice")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "sneaky",
	}))
	evts := drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgNotAuthenticated {
		t.Fatalf("expected not-authenticated status, got %+v", evts)
	}
	posts, err := f.posts.Latest(context.Background(), "home", post.DefaultPageSize)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(posts) != 0 {
		t.Fatal("unauthenticated send must not store a post")
	}
	if got := f.ledger.actions(); len(got) != 1 || got[0] != "post_fail" {
		t.Fatalf("expected post_fail entry, got %v", got)
	}
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	f := newFixture(t, func(d *Deps) {
		d.Limiter = ratelimit.New(1, time.Hour, ratelimit.WithClock(func() time.Time { return now }))
	})
	ch := f.join(t, "c1", "alice")

	f.core.Handle(context.Background(), "c1", direct(t, "genaccount", map[string]any{
		"username": "alice", "pswd": "pw1",
	}))
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Cmd != "welcome" {
		t.Fatalf("first command must pass, got %+v", evts)
	}

	f.core.Handle(context.Background(), "c1", direct(t, "auth", map[string]any{"pswd": "pw1"}))
	evts = drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgRateLimited {
		t.Fatalf("expected rate-limited status, got %+v", evts)
	}
	if f.registry.IsAuthenticated("c1") {
		t.Fatal("rate-limited command must not execute")
	}
	got := f.ledger.actions()
	if got[len(got)-1] != "ratelimit" {
		t.Fatalf("expected ratelimit entry, got %v", got)
	}
}

func TestModerationRejection(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Moderation = rejectAll{reason: "Content flagged by moderation"}
	})
	ch := f.join(t, "c1", "alice")
	f.signup(t, ch, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "something rude",
	}))
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Cmd != "moderr" {
		t.Fatalf("expected moderr, got %+v", evts)
	}
	v := val(t, evts[0])
	if v["message"] != "Content flagged by moderation" || v["post"] != "something rude" {
		t.Fatalf("unexpected moderr payload: %v", v)
	}

	posts, err := f.posts.Latest(context.Background(), "home", post.DefaultPageSize)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(posts) != 0 {
		t.Fatal("rejected content must not be stored")
	}
	got := f.ledger.actions()
	if got[len(got)-1] != "post_fail" {
		t.Fatalf("expected post_fail entry, got %v", got)
	}
}

func TestFilterTransformIsStored(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Moderation = moderation.NewFilter([]string{"darn"})
	})
	ch := f.join(t, "c1", "alice")
	f.signup(t, ch, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "darn it",
	}))
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Cmd != "rpost" {
		t.Fatalf("expected rpost, got %+v", evts)
	}
	if val(t, evts[0])["post_content"] != "**** it" {
		t.Fatalf("broadcast must carry the censored text: %v", evts[0].Val)
	}

	posts, _ := f.posts.Latest(context.Background(), "home", post.DefaultPageSize)
	if len(posts) != 1 || posts[0].Content != "**** it" {
		t.Fatalf("stored content must be the censored text: %+v", posts)
	}
}

func TestDeleteFlow(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")
	f.signup(t, alice, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "delete me",
	}))
	uid := val(t, drain(alice)[0])["uid"].(string)
	drain(bob)

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "delete", "uid": uid,
	}))
	for name, ch := range map[string]<-chan fanout.Event{"alice": alice, "bob": bob} {
		evts := drain(ch)
		if len(evts) != 1 || evts[0].Cmd != "rdel" || val(t, evts[0])["uid"] != uid {
			t.Fatalf("%s: expected rdel for %s, got %+v", name, uid, evts)
		}
	}

	posts, _ := f.posts.Latest(context.Background(), "home", post.DefaultPageSize)
	if len(posts) != 0 {
		t.Fatal("deleted post must not appear in latest")
	}
	// The record survives as a tombstone.
	p, err := f.posts.Find(context.Background(), uid)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !p.Deleted {
		t.Fatal("expected soft-deleted record")
	}
}

func TestDeleteByNonAuthor(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")
	f.signup(t, alice, "c1", "alice", "pw1")
	f.signup(t, bob, "c2", "bob", "pw2")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "mine",
	}))
	uid := val(t, drain(alice)[0])["uid"].(string)
	drain(bob)

	f.core.Handle(context.Background(), "c2", direct(t, "post", map[string]any{
		"type": "delete", "uid": uid,
	}))
	evts := drain(bob)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgNotAuthorized {
		t.Fatalf("expected not-authorized status, got %+v", evts)
	}
	if len(drain(alice)) != 0 {
		t.Fatal("failed delete must not broadcast")
	}
	p, _ := f.posts.Find(context.Background(), uid)
	if p.Deleted {
		t.Fatal("failed delete must not change the post")
	}
}

func TestEditByNonAuthor(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")
	f.signup(t, alice, "c1", "alice", "pw1")
	f.signup(t, bob, "c2", "bob", "pw2")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "original",
	}))
	uid := val(t, drain(alice)[0])["uid"].(string)
	drain(bob)

	f.core.Handle(context.Background(), "c2", direct(t, "post", map[string]any{
		"type": "edit", "uid": uid, "edit": "hijacked",
	}))
	evts := drain(bob)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgNotAuthorized {
		t.Fatalf("expected not-authorized status, got %+v", evts)
	}
	p, _ := f.posts.Find(context.Background(), uid)
	if p.Content != "original" {
		t.Fatalf("failed edit must not change content: %q", p.Content)
	}
}

func TestEditFlow(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	f.signup(t, alice, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "v1",
	}))
	uid := val(t, drain(alice)[0])["uid"].(string)

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "edit", "uid": uid, "edit": "v2",
	}))
	evts := drain(alice)
	if len(evts) != 1 || evts[0].Cmd != "redit" {
		t.Fatalf("expected redit, got %+v", evts)
	}
	v := val(t, evts[0])
	if v["uid"] != uid || v["edit"] != "v2" {
		t.Fatalf("unexpected redit payload: %v", v)
	}
	p, _ := f.posts.Find(context.Background(), uid)
	if p.Content != "v2" || p.EditedAt == nil {
		t.Fatalf("edit not persisted: %+v", p)
	}
}

func TestEditUnknownPost(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	f.signup(t, alice, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "edit", "uid": "ghost", "edit": "v2",
	}))
	evts := drain(alice)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgPostNotFound {
		t.Fatalf("expected post-not-found status, got %+v", evts)
	}
}

func TestRetrieveLatest(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(2))
	alice := f.join(t, "c1", "alice")
	f.signup(t, alice, "c1", "alice", "pw1")

	for _, content := range []string{"one", "two", "three"} {
		f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
			"type": "send", "p": content,
		}))
		time.Sleep(time.Millisecond)
	}
	drain(alice)

	f.core.Handle(context.Background(), "c1", direct(t, "retrieve", map[string]any{"type": "latest"}))
	evts := drain(alice)
	if len(evts) != 1 || evts[0].Cmd != "posts" {
		t.Fatalf("expected posts event, got %+v", evts)
	}
	page, ok := val(t, evts[0])["posts"].([]post.Post)
	if !ok {
		t.Fatalf("unexpected posts payload: %+v", evts[0].Val)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Content != "two" || page[1].Content != "three" {
		t.Fatalf("expected newest two in ascending order, got %q, %q", page[0].Content, page[1].Content)
	}
}

func TestRetrieveWithoutAuthentication(t *testing.T) {
	// Reading the feed needs no login.
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "guest")

	f.core.Handle(context.Background(), "c1", direct(t, "retrieve", map[string]any{"type": "latest"}))
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Cmd != "posts" {
		t.Fatalf("expected posts event, got %+v", evts)
	}
	if page := val(t, evts[0])["posts"].([]post.Post); len(page) != 0 {
		t.Fatalf("expected empty page, got %d", len(page))
	}
}

func TestMalformedEnvelopeDroppedSilently(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "alice")

	for _, raw := range [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"cmd":"gmsg","val":{}}`),
		[]byte(`{"cmd":"direct","val":{"cmd":"bogus","val":{}}}`),
		[]byte(`{"cmd":"direct","val":{"cmd":"auth","val":{}}}`),
		[]byte(`{"cmd":"direct","val":{"cmd":"post","val":{"type":"send"}}}`),
	} {
		f.core.Handle(context.Background(), "c1", raw)
	}

	if evts := drain(ch); len(evts) != 0 {
		t.Fatalf("malformed envelopes must get no response, got %+v", evts)
	}
	if got := f.ledger.actions(); len(got) != 0 {
		t.Fatalf("malformed envelopes must not be audited, got %v", got)
	}
}

func TestBridgeNotifiedOnPost(t *testing.T) {
	b := &memBridge{}
	f := newFixture(t, func(d *Deps) { d.Bridge = b })
	alice := f.join(t, "c1", "alice")
	f.signup(t, alice, "c1", "alice", "pw1")

	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "relay me",
	}))
	uid := val(t, drain(alice)[0])["uid"].(string)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.notes) != 1 {
		t.Fatalf("expected one bridge notification, got %d", len(b.notes))
	}
	if b.notes[0].author != "alice" || b.notes[0].content != "relay me" || b.notes[0].uid != uid {
		t.Fatalf("unexpected notification: %+v", b.notes[0])
	}
}

func TestBridgedInboundMulticast(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.join(t, "c1", "alice")
	bob := f.join(t, "c2", "bob")

	f.core.Bridged("remote_user", "hello from afar")
	for name, ch := range map[string]<-chan fanout.Event{"alice": alice, "bob": bob} {
		evts := drain(ch)
		if len(evts) != 1 || evts[0].Cmd != "bridged" {
			t.Fatalf("%s: expected bridged event, got %+v", name, evts)
		}
		v := val(t, evts[0])
		if v["author"] != "remote_user" || v["post_content"] != "hello from afar" {
			t.Fatalf("%s: unexpected payload: %v", name, v)
		}
	}
}

func TestDisconnectClearsSession(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.join(t, "c1", "alice")
	f.signup(t, ch, "c1", "alice", "pw1")

	f.core.Disconnect("c1")
	if f.registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", f.registry.Len())
	}

	// A new connection under the same id starts unauthenticated.
	ch = f.join(t, "c1", "alice")
	f.core.Handle(context.Background(), "c1", direct(t, "post", map[string]any{
		"type": "send", "p": "am I still logged in?",
	}))
	evts := drain(ch)
	if len(evts) != 1 || val(t, evts[0])["message"] != msgNotAuthenticated {
		t.Fatalf("expected not-authenticated status, got %+v", evts)
	}
}

func TestShutdownClosesCleanly(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.core.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
