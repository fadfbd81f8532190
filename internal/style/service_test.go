package style

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/domain"
)

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]domain.StyleOverride
	getCalls int
	getErr   error
	saveErr  error
	onChange func(domain.StyleOverride)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]domain.StyleOverride)}
}

func (r *fakeRepo) GetStyle(ctx context.Context, senderID string) (*domain.StyleOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	row, ok := r.rows[senderID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *fakeRepo) SaveStyle(ctx context.Context, s domain.StyleOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.rows[s.SenderID] = s
	return nil
}

func (r *fakeRepo) SubscribeStyleChanges(ctx context.Context, fn func(domain.StyleOverride)) (domain.SubscriptionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
	return closer{}, nil
}

type closer struct{}

func (closer) Close() error { return nil }

type fakeBroadcaster struct {
	sent []domain.StyleOverride
	err  error
}

func (b *fakeBroadcaster) BroadcastStyle(ctx context.Context, s domain.StyleOverride) error {
	b.sent = append(b.sent, s)
	return b.err
}

func TestService_SaveOwn(t *testing.T) {
	repo := newFakeRepo()
	bc := &fakeBroadcaster{}
	svc := NewService(NewCache(), repo, bc)

	err := svc.SaveOwn(context.Background(), domain.StyleOverride{SenderID: "me", BubbleColor: "#111"})
	require.NoError(t, err)

	assert.Equal(t, "#111", repo.rows["me"].BubbleColor)
	require.Len(t, bc.sent, 1)
	assert.Equal(t, "me", bc.sent[0].SenderID)
	assert.True(t, svc.Cache().Fresh("me"))
}

func TestService_SaveOwnFailureLeavesCacheAlone(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("db down")
	bc := &fakeBroadcaster{}
	svc := NewService(NewCache(), repo, bc)

	err := svc.SaveOwn(context.Background(), domain.StyleOverride{SenderID: "me", BubbleColor: "#111"})
	require.Error(t, err)

	_, ok := svc.Cache().Get("me")
	assert.False(t, ok)
	assert.Empty(t, bc.sent)
}

func TestService_SaveOwnBroadcastFailureIsNotFatal(t *testing.T) {
	svc := NewService(NewCache(), newFakeRepo(), &fakeBroadcaster{err: errors.New("bus closed")})

	err := svc.SaveOwn(context.Background(), domain.StyleOverride{SenderID: "me", Font: "mono"})
	assert.NoError(t, err)
}

func TestService_SaveOwnRequiresSender(t *testing.T) {
	svc := NewService(NewCache(), newFakeRepo(), nil)
	assert.ErrorIs(t, svc.SaveOwn(context.Background(), domain.StyleOverride{}), ErrNoSender)
}

func TestService_LookupPrefersFreshCache(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["X"] = domain.StyleOverride{SenderID: "X", BubbleColor: "#fff"}
	svc := NewService(NewCache(), repo, nil)
	svc.Cache().Set("X", &domain.StyleOverride{BubbleColor: "#111"}, SourceBroadcast)

	got, err := svc.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "#111", got.BubbleColor)
	assert.Zero(t, repo.getCalls)
}

func TestService_LookupFetchesOnMiss(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["X"] = domain.StyleOverride{SenderID: "X", BubbleColor: "#fff"}
	svc := NewService(NewCache(), repo, nil)

	got, err := svc.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "#fff", got.BubbleColor)

	got, err = svc.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 2, repo.getCalls)
}

func TestService_LookupServesAnyCachedEntry(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["X"] = domain.StyleOverride{SenderID: "X", BubbleColor: "#fff"}
	svc := NewService(NewCache(), repo, nil)
	svc.Cache().Prime("Y", nil)
	svc.Cache().Prime("X", &domain.StyleOverride{BubbleColor: "#abc"})

	got, err := svc.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "#abc", got.BubbleColor)

	got, err = svc.Lookup(context.Background(), "Y")
	require.NoError(t, err)
	assert.Nil(t, got, "a cached miss is still a hit")
	assert.Zero(t, repo.getCalls)
}

func TestService_LookupFetchError(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("timeout")
	svc := NewService(NewCache(), repo, nil)

	_, err := svc.Lookup(context.Background(), "X")
	assert.Error(t, err)

	svc.Cache().Prime("X", &domain.StyleOverride{BubbleColor: "#abc"})
	got, err := svc.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "#abc", got.BubbleColor)

	styles := svc.LookupMany(context.Background(), []string{"X", "Y"})
	assert.Contains(t, styles, "X")
	assert.NotContains(t, styles, "Y")
}

func TestService_WatchWritesPushSource(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(NewCache(), repo, nil)

	h, err := svc.Watch(context.Background())
	require.NoError(t, err)
	defer h.Close()

	repo.onChange(domain.StyleOverride{SenderID: "X", BubbleColor: "#123"})

	got, ok := svc.Cache().Get("X")
	require.True(t, ok)
	assert.Equal(t, "#123", got.BubbleColor)
	assert.True(t, svc.Cache().Fresh("X"))
}
