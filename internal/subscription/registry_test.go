package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// fakeOpener counts opens and closes and lets tests push rows.
type fakeOpener struct {
	mu      sync.Mutex
	opens   atomic.Int32
	closes  atomic.Int32
	delay   time.Duration
	err     error
	deliver map[scope.Key]func(domain.ChatMessage)
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{deliver: make(map[scope.Key]func(domain.ChatMessage))}
}

type fakeHandle struct{ o *fakeOpener }

func (h fakeHandle) Close() error {
	h.o.closes.Add(1)
	return nil
}

func (o *fakeOpener) SubscribeInserts(ctx context.Context, key scope.Key, fn func(domain.ChatMessage)) (domain.SubscriptionHandle, error) {
	o.opens.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	o.deliver[key] = fn
	o.mu.Unlock()
	return fakeHandle{o: o}, nil
}

func (o *fakeOpener) push(key scope.Key, msg domain.ChatMessage) {
	o.mu.Lock()
	fn := o.deliver[key]
	o.mu.Unlock()
	fn(msg)
}

const key = scope.Key("stream:s1")

func TestRegistry_ConcurrentAttachOpensOnce(t *testing.T) {
	opener := newFakeOpener()
	opener.delay = 20 * time.Millisecond
	reg := NewRegistry(opener)

	const n = 25
	atts := make([]*Attachment, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			att, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
			require.NoError(t, err)
			atts[i] = att
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opener.opens.Load())
	assert.Equal(t, n, reg.RefCount(key))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Detach(atts[i])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opener.closes.Load())
	assert.Zero(t, reg.RefCount(key))
	assert.Equal(t, Stats{}, reg.Stats())
}

func TestRegistry_DetachTwiceIsNoop(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener)

	a, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)
	b, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)

	a.Detach()
	a.Detach()
	assert.Equal(t, 1, reg.RefCount(key))
	assert.Zero(t, opener.closes.Load())

	b.Detach()
	assert.Equal(t, int32(1), opener.closes.Load())
}

func TestRegistry_ReattachAfterCloseOpensAgain(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener)

	a, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)
	a.Detach()
	b, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)
	defer b.Detach()

	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestRegistry_FanOutInOrder(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener)

	var first, second []string
	_, err := reg.Attach(context.Background(), key, func(m domain.ChatMessage) { first = append(first, m.ID) })
	require.NoError(t, err)

	opener.push(key, domain.ChatMessage{ID: "1"})

	late, err := reg.Attach(context.Background(), key, func(m domain.ChatMessage) { second = append(second, m.ID) })
	require.NoError(t, err)

	opener.push(key, domain.ChatMessage{ID: "2"})
	opener.push(key, domain.ChatMessage{ID: "3"})
	late.Detach()
	opener.push(key, domain.ChatMessage{ID: "4"})

	assert.Equal(t, []string{"1", "2", "3", "4"}, first)
	assert.Equal(t, []string{"2", "3"}, second, "late listeners never see earlier events")
}

func TestRegistry_OpenFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.err = errors.New("ws closed")
	reg := NewRegistry(opener)

	_, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubscription)
	var subErr *domain.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, key, subErr.Scope)
	assert.Zero(t, reg.RefCount(key))

	opener.err = nil
	att, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)
	att.Detach()
}

func TestRegistry_WaitersShareOpenFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.delay = 20 * time.Millisecond
	opener.err = errors.New("ws closed")
	reg := NewRegistry(opener)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {}); errors.Is(err, domain.ErrSubscription) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), failures.Load())
	assert.Equal(t, Stats{}, reg.Stats())
}

func TestRegistry_ScopesAreIndependent(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener)

	a, err := reg.Attach(context.Background(), scope.Key("room:r1"), func(domain.ChatMessage) {})
	require.NoError(t, err)
	b, err := reg.Attach(context.Background(), scope.Key("stream:s1"), func(domain.ChatMessage) {})
	require.NoError(t, err)

	assert.Equal(t, int32(2), opener.opens.Load())
	assert.Equal(t, Stats{Scopes: 2, Listeners: 2}, reg.Stats())

	a.Detach()
	b.Detach()
	assert.Equal(t, int32(2), opener.closes.Load())
}

func TestRegistry_Close(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener)

	_, err := reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	assert.Equal(t, int32(1), opener.closes.Load())

	_, err = reg.Attach(context.Background(), key, func(domain.ChatMessage) {})
	assert.ErrorIs(t, err, domain.ErrScopeClosed)
}
