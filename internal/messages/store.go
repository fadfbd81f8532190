// Package messages holds the ordered, deduplicated log of visible messages
// for one chat scope. It is the read model the UI renders.
package messages

import (
	"sort"
	"sync"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// BlockPredicate reports whether messages from senderID must be hidden.
type BlockPredicate func(senderID string) bool

type entry struct {
	msg domain.ChatMessage
	seq uint64 // insertion order, used as the tie-break for equal timestamps
}

// Store is the message log of one scope. Messages are kept in ascending
// CreatedAt order with ties broken by insertion order. Ids are unique.
//
// A Store is owned by a single scope handle, but push deliveries, relay
// events and sends arrive on different goroutines, so all access is locked.
type Store struct {
	key scope.Key

	mu      sync.RWMutex
	items   []entry
	ids     map[string]struct{}
	seq     uint64
	blocked BlockPredicate
	version uint64
	changes chan struct{}
}

// NewStore creates an empty store for the given scope.
func NewStore(key scope.Key) *Store {
	return &Store{
		key:     key,
		ids:     make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Key returns the scope this store belongs to.
func (s *Store) Key() scope.Key { return s.key }

// BulkLoad replaces the confirmed contents of the store with msgs. Duplicate
// ids in msgs collapse to the last occurrence. Unreconciled optimistic
// entries survive the reload so an in-flight send does not disappear; the
// echo manager settles them against the loaded rows afterwards.
// Loading the same input twice yields the same state.
func (s *Store) BulkLoad(msgs []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := make(map[string]int, len(msgs))
	for i, m := range msgs {
		last[m.ID] = i
	}

	next := make([]entry, 0, len(msgs))
	for i, m := range msgs {
		if last[m.ID] != i || !s.admitLocked(m) {
			continue
		}
		s.seq++
		next = append(next, entry{msg: m, seq: s.seq})
	}
	for _, e := range s.items {
		if _, reloaded := last[e.msg.ID]; e.msg.Pending && !reloaded {
			next = append(next, e)
		}
	}

	sort.SliceStable(next, func(i, j int) bool {
		a, b := next[i], next[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})

	s.items = next
	s.ids = make(map[string]struct{}, len(next))
	for _, e := range next {
		s.ids[e.msg.ID] = struct{}{}
	}
	s.changedLocked()
}

// Upsert inserts msg if its id is unseen, or replaces the existing entry in
// place. It returns false when the block filter rejected the message.
func (s *Store) Upsert(msg domain.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.admitLocked(msg) {
		return false
	}
	if i := s.indexLocked(msg.ID); i >= 0 {
		s.items[i].msg = msg
		s.changedLocked()
		return true
	}
	s.insertLocked(msg)
	s.changedLocked()
	return true
}

// Replace swaps the entry oldID for msg at the same position. If msg.ID is
// already present elsewhere, that entry is updated and oldID is dropped, so
// ids stay unique. If oldID is gone, msg is upserted.
func (s *Store) Replace(oldID string, msg domain.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.admitLocked(msg) {
		s.removeLocked(oldID)
		s.changedLocked()
		return false
	}

	oldIdx := s.indexLocked(oldID)
	newIdx := -1
	if msg.ID != oldID {
		newIdx = s.indexLocked(msg.ID)
	}

	switch {
	case oldIdx >= 0 && newIdx < 0:
		delete(s.ids, oldID)
		s.items[oldIdx].msg = msg
		s.ids[msg.ID] = struct{}{}
	case oldIdx >= 0 && newIdx >= 0:
		s.items[newIdx].msg = msg
		s.removeLocked(oldID)
	case newIdx >= 0:
		s.items[newIdx].msg = msg
	default:
		s.insertLocked(msg)
	}
	s.changedLocked()
	return true
}

// Remove deletes the message with the given id. It reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeLocked(id) {
		return false
	}
	s.changedLocked()
	return true
}

// ApplyBlockFilter installs pred as the admission filter for all future
// inserts and removes already visible messages it rejects.
func (s *Store) ApplyBlockFilter(pred BlockPredicate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked = pred
	kept := s.items[:0]
	removed := false
	for _, e := range s.items {
		if s.admitLocked(e.msg) {
			kept = append(kept, e)
			continue
		}
		delete(s.ids, e.msg.ID)
		removed = true
	}
	s.items = kept
	if removed {
		s.changedLocked()
	}
}

// Restyle sets the resolved style of every message from senderID. It
// reports whether any visible message changed.
func (s *Store) Restyle(senderID string, style *domain.StyleOverride) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.items {
		if s.items[i].msg.SenderID == senderID && senderID != "" {
			s.items[i].msg.Style = style.Clone()
			changed = true
		}
	}
	if changed {
		s.changedLocked()
	}
	return changed
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.items[i].msg, true
	}
	return domain.ChatMessage{}, false
}

// Snapshot returns the visible messages in display order.
func (s *Store) Snapshot() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChatMessage, len(s.items))
	for i, e := range s.items {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SenderIDs returns the distinct non-system senders currently visible.
func (s *Store) SenderIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.items {
		id := e.msg.SenderID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Version increases on every visible change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Changes signals after visible changes. Signals coalesce: a reader that
// falls behind sees one pending notification and should re-read Snapshot.
func (s *Store) Changes() <-chan struct{} { return s.changes }

func (s *Store) admitLocked(m domain.ChatMessage) bool {
	if s.blocked == nil || m.SenderID == "" {
		return true
	}
	return !s.blocked(m.SenderID)
}

func (s *Store) indexLocked(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].msg.ID == id {
			return i
		}
	}
	return -1
}

// insertLocked places msg after every entry with CreatedAt <= msg.CreatedAt,
// scanning from the tail since new messages almost always append.
func (s *Store) insertLocked(msg domain.ChatMessage) {
	i := len(s.items)
	for i > 0 && s.items[i-1].msg.CreatedAt.After(msg.CreatedAt) {
		i--
	}
	s.seq++
	s.items = append(s.items, entry{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = entry{msg: msg, seq: s.seq}
	s.ids[msg.ID] = struct{}{}
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.ids, id)
	return true
}

func (s *Store) changedLocked() {
	s.version++
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
