package optimistic

import (
	"fmt"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
)

// tokenBodyRunes is how much of the body goes into a correlation token.
const tokenBodyRunes = 32

// Matcher picks which pending echo, if any, a confirmed message settles.
// Candidates are passed oldest first and are all still in the Optimistic
// state.
type Matcher interface {
	Match(candidates []*Pending, confirmed domain.ChatMessage, window time.Duration) *Pending
}

// HeuristicMatcher correlates by sender, exact body and a time window. Two
// identical sends inside the window cannot be told apart; the oldest wins.
type HeuristicMatcher struct{}

// Match implements Matcher.
func (HeuristicMatcher) Match(candidates []*Pending, confirmed domain.ChatMessage, window time.Duration) *Pending {
	if confirmed.SenderID == "" {
		return nil
	}
	for _, p := range candidates {
		if p.SenderID != confirmed.SenderID || p.Body != confirmed.Body {
			continue
		}
		if withinWindow(p.CreatedAt, confirmed.CreatedAt, window) {
			return p
		}
	}
	return nil
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Token builds the correlation value for a send: sender, the first 32 runes
// of the body and the unix millisecond timestamp, joined by '|'.
func Token(senderID, body string, at time.Time) string {
	r := []rune(body)
	if len(r) > tokenBodyRunes {
		r = r[:tokenBodyRunes]
	}
	return fmt.Sprintf("%s|%s|%d", senderID, string(r), at.UnixMilli())
}
