package database

import (
	"context"
	"errors"
	"strings"

	"github.com/nfrund/chatsync/internal/domain"
)

// ProfileStore creates the profile rows that chat messages reference.
type ProfileStore struct {
	conn DBConnection
}

var _ domain.ProfileRepository = (*ProfileStore)(nil)

// NewProfileStore creates a ProfileStore.
func NewProfileStore(conn DBConnection) *ProfileStore {
	return &ProfileStore{conn: conn}
}

const ensureProfileQuery = "CREATE type::thing('" + tableProfile + "', $user_id) CONTENT " +
	"{ user_id: $user_id, email: $email, display_name: $display_name, created_at: time::now() }"

type profileRow struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// EnsureProfile creates the user's profile from fallback when it is
// missing. An existing profile is left untouched.
func (s *ProfileStore) EnsureProfile(ctx context.Context, userID string, fallback domain.Identity) error {
	if userID == "" {
		return NewDBError(ErrInvalidInput, "ensure profile: empty user id")
	}
	_, err := writeRow[profileRow](ctx, s.conn, "ensure profile", ensureProfileQuery, map[string]any{
		"user_id":      userID,
		"email":        fallback.Email,
		"display_name": fallback.FallbackDisplayName(),
	})
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

func isAlreadyExists(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.Contains(e.Error(), "already exists") {
			return true
		}
	}
	return false
}
