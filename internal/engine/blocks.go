package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
)

const (
	// DefaultBlockTTL is how long a block-list answer is trusted before the
	// next push or load asks again.
	DefaultBlockTTL = 30 * time.Second

	maxBlockAnswers = 10000
)

type blockPair struct{ viewer, other string }

type blockAnswer struct {
	blocked bool
	at      time.Time
}

// blockCache remembers block-list answers so the store's admission filter
// can run without I/O. Answers expire after ttl and the map holds at most
// max pairs.
type blockCache struct {
	checker domain.BlockChecker
	ttl     time.Duration
	max     int
	now     func() time.Time

	mu    sync.RWMutex
	known map[blockPair]blockAnswer
}

func newBlockCache(checker domain.BlockChecker, ttl time.Duration) *blockCache {
	if ttl <= 0 {
		ttl = DefaultBlockTTL
	}
	return &blockCache{
		checker: checker,
		ttl:     ttl,
		max:     maxBlockAnswers,
		now:     time.Now,
		known:   make(map[blockPair]blockAnswer),
	}
}

func (b *blockCache) applies(viewer, other string) bool {
	return b.checker != nil && viewer != "" && other != "" && viewer != other
}

// blocked reports the last known answer for the pair. Unknown pairs are not
// blocked.
func (b *blockCache) blocked(viewer, other string) bool {
	if !b.applies(viewer, other) {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.known[blockPair{viewer, other}].blocked
}

// resolve asks the checker about every pair with no fresh answer. With
// refresh set every pair is asked again. A failed check is logged and keeps
// whatever answer was there before.
func (b *blockCache) resolve(ctx context.Context, viewer string, refresh bool, others ...string) {
	for _, other := range others {
		if !b.applies(viewer, other) {
			continue
		}
		pair := blockPair{viewer, other}
		if !refresh {
			b.mu.RLock()
			ans, ok := b.known[pair]
			b.mu.RUnlock()
			if ok && b.now().Sub(ans.at) < b.ttl {
				continue
			}
		}

		blocked, err := b.checker.IsBlockedBidirectional(ctx, viewer, other)
		if err != nil {
			slog.WarnContext(ctx, "Block check failed", "viewer_id", viewer, "other_id", other, "error", err)
			continue
		}
		b.store(pair, blocked)
	}
}

func (b *blockCache) store(pair blockPair, blocked bool) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.known[pair]; !ok && len(b.known) >= b.max {
		b.evictLocked(now)
	}
	b.known[pair] = blockAnswer{blocked: blocked, at: now}
}

// evictLocked drops expired answers, then the oldest one if still full.
func (b *blockCache) evictLocked(now time.Time) {
	for p, ans := range b.known {
		if now.Sub(ans.at) >= b.ttl {
			delete(b.known, p)
		}
	}
	if len(b.known) < b.max {
		return
	}
	var (
		oldest blockPair
		at     time.Time
		found  bool
	)
	for p, ans := range b.known {
		if !found || ans.at.Before(at) {
			oldest, at, found = p, ans.at, true
		}
	}
	delete(b.known, oldest)
}

func (b *blockCache) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.known)
}
