package database

import (
	"context"

	"github.com/nfrund/chatsync/internal/domain"
)

// BlockStore answers block-list questions from the block table, where each
// record means blocker_id blocked blocked_id.
type BlockStore struct {
	conn DBConnection
}

var _ domain.BlockChecker = (*BlockStore)(nil)

// NewBlockStore creates a BlockStore.
func NewBlockStore(conn DBConnection) *BlockStore {
	return &BlockStore{conn: conn}
}

const blockedQuery = "SELECT id FROM " + tableBlock +
	" WHERE (blocker_id = $a AND blocked_id = $b) OR (blocker_id = $b AND blocked_id = $a) LIMIT 1"

type idRow struct {
	ID any `json:"id"`
}

// IsBlockedBidirectional reports whether either user blocked the other.
func (s *BlockStore) IsBlockedBidirectional(ctx context.Context, viewerID, otherID string) (bool, error) {
	if viewerID == "" || otherID == "" || viewerID == otherID {
		return false, nil
	}
	rows, err := queryRows[idRow](ctx, s.conn, "check block", blockedQuery, map[string]any{
		"a": viewerID,
		"b": otherID,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
