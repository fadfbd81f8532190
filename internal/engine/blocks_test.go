package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubChecker struct {
	calls   atomic.Int32
	blocked atomic.Bool
}

func (s *stubChecker) IsBlockedBidirectional(context.Context, string, string) (bool, error) {
	s.calls.Add(1)
	return s.blocked.Load(), nil
}

func TestBlockCache_AnswerExpires(t *testing.T) {
	checker := &stubChecker{}
	c := newBlockCache(checker, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.resolve(ctx, "me", false, "x")
	assert.False(t, c.blocked("me", "x"))

	checker.blocked.Store(true)
	c.resolve(ctx, "me", false, "x")
	assert.False(t, c.blocked("me", "x"), "fresh answer is reused")
	assert.EqualValues(t, 1, checker.calls.Load())

	now = now.Add(time.Minute)
	c.resolve(ctx, "me", false, "x")
	assert.True(t, c.blocked("me", "x"))
	assert.EqualValues(t, 2, checker.calls.Load())
}

func TestBlockCache_RefreshIgnoresFreshness(t *testing.T) {
	checker := &stubChecker{}
	c := newBlockCache(checker, time.Hour)
	ctx := context.Background()

	c.resolve(ctx, "me", false, "x")
	checker.blocked.Store(true)
	c.resolve(ctx, "me", true, "x")

	assert.True(t, c.blocked("me", "x"))
	assert.EqualValues(t, 2, checker.calls.Load())
}

func TestBlockCache_Bounded(t *testing.T) {
	c := newBlockCache(&stubChecker{}, time.Hour)
	c.max = 3
	now := time.Unix(1000, 0)
	c.now = func() time.Time { now = now.Add(time.Second); return now }

	for i := range 5 {
		c.resolve(context.Background(), "me", false, fmt.Sprintf("user-%d", i))
	}

	assert.Equal(t, 3, c.size())
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.NotContains(t, c.known, blockPair{"me", "user-0"})
	assert.NotContains(t, c.known, blockPair{"me", "user-1"})
	assert.Contains(t, c.known, blockPair{"me", "user-4"})
}
