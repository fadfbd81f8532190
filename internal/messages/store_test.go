package messages

import (
	"testing"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = scope.Key("stream:s1")
	base    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func msg(id, sender, body string, offset time.Duration) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        id,
		ScopeKey:  testKey,
		SenderID:  sender,
		Kind:      domain.KindText,
		Body:      body,
		CreatedAt: base.Add(offset),
	}
}

func ids(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStore_UpsertDedupsById(t *testing.T) {
	s := NewStore(testKey)

	assert.True(t, s.Upsert(msg("1", "a", "hi", 0)))
	assert.True(t, s.Upsert(msg("2", "b", "yo", time.Second)))
	assert.True(t, s.Upsert(msg("1", "a", "hi (edited)", 0)))

	require.Equal(t, 2, s.Len())
	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, "hi (edited)", got.Body)
	assert.Equal(t, []string{"1", "2"}, ids(s.Snapshot()))
}

func TestStore_LenNeverExceedsDistinctIds(t *testing.T) {
	s := NewStore(testKey)
	for round := 0; round < 3; round++ {
		for i, id := range []string{"a", "b", "c", "a", "b"} {
			s.Upsert(msg(id, "u", "x", time.Duration(i)*time.Second))
		}
	}
	assert.Equal(t, 3, s.Len())
}

func TestStore_OrderingAndTieBreak(t *testing.T) {
	s := NewStore(testKey)

	s.Upsert(msg("late", "a", "3", 3*time.Second))
	s.Upsert(msg("early", "a", "1", time.Second))
	s.Upsert(msg("tie-1", "a", "2a", 2*time.Second))
	s.Upsert(msg("tie-2", "b", "2b", 2*time.Second))

	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, ids(s.Snapshot()))
}

func TestStore_BulkLoad(t *testing.T) {
	s := NewStore(testKey)
	input := []domain.ChatMessage{
		msg("3", "a", "third", 3*time.Second),
		msg("1", "a", "first", time.Second),
		msg("2", "b", "second", 2*time.Second),
		msg("1", "a", "first (dup)", time.Second),
	}

	s.BulkLoad(input)
	first := s.Snapshot()
	assert.Equal(t, []string{"1", "2", "3"}, ids(first))
	assert.Equal(t, "first (dup)", first[0].Body)

	s.BulkLoad(input)
	assert.Equal(t, first, s.Snapshot(), "bulk load must be idempotent")
}

func TestStore_BulkLoadKeepsPendingEchoes(t *testing.T) {
	s := NewStore(testKey)
	pending := msg("tmp_1", "me", "sending", 5*time.Second)
	pending.Pending = true
	s.Upsert(pending)

	s.BulkLoad([]domain.ChatMessage{msg("1", "a", "old", 0)})

	assert.Equal(t, []string{"1", "tmp_1"}, ids(s.Snapshot()))
}

func TestStore_ReplaceKeepsPosition(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("1", "a", "before", 0))
	s.Upsert(msg("tmp_x", "me", "hello", time.Second))
	s.Upsert(msg("3", "b", "after", 2*time.Second))

	confirmed := msg("42", "me", "hello", 5*time.Second)
	assert.True(t, s.Replace("tmp_x", confirmed))

	assert.Equal(t, []string{"1", "42", "3"}, ids(s.Snapshot()))
	_, ok := s.Get("tmp_x")
	assert.False(t, ok)
}

func TestStore_ReplaceWhenConfirmedAlreadyPresent(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("tmp_x", "me", "hello", 0))
	s.Upsert(msg("42", "me", "hello", time.Second))

	s.Replace("tmp_x", msg("42", "me", "hello", time.Second))

	assert.Equal(t, []string{"42"}, ids(s.Snapshot()))
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("1", "a", "x", 0))

	assert.True(t, s.Remove("1"))
	assert.False(t, s.Remove("1"))
	assert.Zero(t, s.Len())
}

func TestStore_BlockFilterRejectsBeforeInsert(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("1", "troll", "first", 0))
	s.Upsert(msg("2", "friend", "second", time.Second))

	s.ApplyBlockFilter(func(senderID string) bool { return senderID == "troll" })
	assert.Equal(t, []string{"2"}, ids(s.Snapshot()))

	before := s.Version()
	assert.False(t, s.Upsert(msg("3", "troll", "again", 2*time.Second)))
	assert.Equal(t, before, s.Version(), "a rejected message must not produce a visible change")
	assert.Equal(t, []string{"2"}, ids(s.Snapshot()))

	sys := msg("4", "", "stream started", 3*time.Second)
	sys.Kind = domain.KindSystem
	assert.True(t, s.Upsert(sys), "system messages are never blocked")
}

func TestStore_Restyle(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("1", "a", "x", 0))
	s.Upsert(msg("2", "b", "y", time.Second))
	s.Upsert(msg("3", "a", "z", 2*time.Second))

	assert.True(t, s.Restyle("a", &domain.StyleOverride{SenderID: "a", BubbleColor: "#111"}))
	for _, m := range s.Snapshot() {
		if m.SenderID == "a" {
			require.NotNil(t, m.Style)
			assert.Equal(t, "#111", m.Style.BubbleColor)
		} else {
			assert.Nil(t, m.Style)
		}
	}
	assert.False(t, s.Restyle("nobody", nil))
	assert.ElementsMatch(t, []string{"a", "b"}, s.SenderIDs())
}

func TestStore_ChangesCoalesce(t *testing.T) {
	s := NewStore(testKey)
	s.Upsert(msg("1", "a", "x", 0))
	s.Upsert(msg("2", "a", "y", time.Second))

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-s.Changes():
		t.Fatal("notifications should coalesce")
	default:
	}
}
