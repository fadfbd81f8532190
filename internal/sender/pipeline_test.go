package sender

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/messages"
	"github.com/nfrund/chatsync/internal/optimistic"
	"github.com/nfrund/chatsync/internal/relay"
	"github.com/nfrund/chatsync/internal/scope"
)

var key = scope.Key("stream:s1")

type fakeMessages struct {
	mu      sync.Mutex
	err     error
	inserts int
	// seen captures the store state at insert time.
	seen func()
}

func (f *fakeMessages) ListMessages(context.Context, scope.Key, domain.ListOptions) ([]domain.ChatMessage, error) {
	return nil, nil
}

func (f *fakeMessages) InsertMessage(ctx context.Context, k scope.Key, senderID, body string) (domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen != nil {
		f.seen()
	}
	if f.err != nil {
		return domain.ChatMessage{}, f.err
	}
	f.inserts++
	return domain.ChatMessage{
		ID:        "chat_message:42",
		ScopeKey:  k,
		SenderID:  senderID,
		Kind:      domain.KindText,
		Body:      body,
		CreatedAt: time.Now().Add(2 * time.Second),
	}, nil
}

type fakeBlocks struct {
	blocked bool
	err     error
}

func (f fakeBlocks) IsBlockedBidirectional(context.Context, string, string) (bool, error) {
	return f.blocked, f.err
}

type fakeProfiles struct {
	calls atomic.Int32
	err   error
	delay time.Duration
	got   domain.Identity
}

func (f *fakeProfiles) EnsureProfile(ctx context.Context, userID string, fallback domain.Identity) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.got = fallback
	return f.err
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []relay.Envelope
}

func (f *fakeRelay) Publish(ctx context.Context, env relay.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

type draft struct{ body string }

func (d *draft) SetDraft(body string) { d.body = body }

type fixture struct {
	msgs     *fakeMessages
	profiles *fakeProfiles
	relay    *fakeRelay
	store    *messages.Store
	echo     *optimistic.Manager
	draft    *draft
	pipeline *Pipeline
}

func newFixture(blocks fakeBlocks) *fixture {
	f := &fixture{
		msgs:     &fakeMessages{},
		profiles: &fakeProfiles{},
		relay:    &fakeRelay{},
		store:    messages.NewStore(key),
		draft:    &draft{},
	}
	f.echo = optimistic.NewManager(f.store)
	f.pipeline = New(Dependencies{
		Messages: f.msgs,
		Blocks:   blocks,
		Profiles: NewProfileGuard(f.profiles),
		Relay:    f.relay,
	})
	return f
}

func (f *fixture) send(body string) (domain.ChatMessage, error) {
	f.draft.body = body
	return f.pipeline.Send(context.Background(), Request{
		Key:     key,
		Viewer:  domain.Identity{UserID: "me", Email: "me@example.com"},
		OwnerID: "streamer",
		Body:    body,
		Origin:  "tab-1",
		Echo:    f.echo,
		Draft:   f.draft,
	})
}

func TestSend_Success(t *testing.T) {
	f := newFixture(fakeBlocks{})
	f.msgs.seen = func() {
		snap := f.store.Snapshot()
		require.Len(t, snap, 1, "echo must be visible before persisting")
		assert.True(t, snap[0].Pending)
		assert.Empty(t, f.draft.body, "draft clears before persisting")
	}

	row, err := f.send("  hello  ")
	require.NoError(t, err)

	assert.Equal(t, "hello", row.Body)
	snap := f.store.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "chat_message:42", snap[0].ID)
	assert.False(t, snap[0].Pending)

	require.Len(t, f.relay.sent, 1)
	env := f.relay.sent[0]
	assert.Equal(t, relay.TypeNewMessage, env.Type)
	assert.Equal(t, "tab-1", env.Origin)
	msg, err := env.Message()
	require.NoError(t, err)
	assert.Equal(t, row.ID, msg.ID)
}

func TestSend_ValidationEchoesNothing(t *testing.T) {
	f := newFixture(fakeBlocks{})

	_, err := f.send("   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = f.send(strings.Repeat("a", domain.MaxBodyLength+1))
	assert.ErrorIs(t, err, domain.ErrMessageTooLong)

	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.profiles.calls.Load())
}

func TestSend_Blocked(t *testing.T) {
	f := newFixture(fakeBlocks{blocked: true})

	_, err := f.send("hi")

	assert.ErrorIs(t, err, domain.ErrMessagingBlocked)
	assert.Zero(t, f.store.Len())
	assert.Equal(t, "hi", f.draft.body, "draft is untouched")
	assert.Zero(t, f.msgs.inserts)
}

func TestSend_BlockCheckErrorSendsAnyway(t *testing.T) {
	f := newFixture(fakeBlocks{err: errors.New("timeout")})

	row, err := f.send("hi")

	require.NoError(t, err)
	assert.Equal(t, 1, f.msgs.inserts)
	assert.Equal(t, 1, f.store.Len())
	got, ok := f.store.Get(row.ID)
	require.True(t, ok)
	assert.False(t, got.Pending)
	assert.Empty(t, f.draft.body)
}

func TestSend_PersistFailureRollsBack(t *testing.T) {
	f := newFixture(fakeBlocks{})
	f.store.Upsert(domain.ChatMessage{ID: "1", ScopeKey: key, SenderID: "x", Body: "older", CreatedAt: time.Now().Add(-time.Minute)})
	f.msgs.err = errors.New("connection refused")

	_, err := f.send("hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistFailure)
	assert.Equal(t, 1, f.store.Len())
	_, ok := f.store.Get("1")
	assert.True(t, ok)
	assert.Equal(t, "hello", f.draft.body)
	assert.Empty(t, f.relay.sent)
}

func TestSend_DependencyRepairFailure(t *testing.T) {
	f := newFixture(fakeBlocks{})
	f.profiles.err = errors.New("fk insert failed")

	_, err := f.send("hello")

	assert.ErrorIs(t, err, domain.ErrDependencyRepair)
	assert.ErrorIs(t, err, domain.ErrPersistFailure)
	assert.Zero(t, f.store.Len())
	assert.Equal(t, "hello", f.draft.body)
	assert.Zero(t, f.msgs.inserts)

	f.profiles.err = nil
	_, err = f.send("hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.profiles.calls.Load(), "failed repairs are retried")
}

func TestSend_EnsuresProfileOncePerSession(t *testing.T) {
	f := newFixture(fakeBlocks{})

	for i := 0; i < 3; i++ {
		_, err := f.send("hi")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), f.profiles.calls.Load())
	assert.Equal(t, "me", f.profiles.got.DisplayName, "display name falls back to the e-mail local part")
}

func TestProfileGuard_ConcurrentEnsureSharesCall(t *testing.T) {
	profiles := &fakeProfiles{delay: 20 * time.Millisecond}
	g := NewProfileGuard(profiles)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Ensure(context.Background(), domain.Identity{UserID: "u"}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), profiles.calls.Load())

	g.Forget("u")
	require.NoError(t, g.Ensure(context.Background(), domain.Identity{UserID: "u"}))
	assert.Equal(t, int32(2), profiles.calls.Load())
}

func TestSend_OwnScopeSkipsBlockCheck(t *testing.T) {
	f := newFixture(fakeBlocks{blocked: true})

	_, err := f.pipeline.Send(context.Background(), Request{
		Key:     key,
		Viewer:  domain.Identity{UserID: "streamer"},
		OwnerID: "streamer",
		Body:    "welcome",
		Echo:    f.echo,
	})

	assert.NoError(t, err)
}
