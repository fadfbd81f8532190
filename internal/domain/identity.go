package domain

import "strings"

// Identity describes the viewer using the engine. It is the fallback source
// for auto-provisioned profiles.
type Identity struct {
	UserID      string `json:"userId" validate:"required"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName string `json:"displayName,omitempty"`
}

// FallbackDisplayName derives a display name when none is set, using the
// local part of the e-mail address and finally the user id.
func (i Identity) FallbackDisplayName() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if local, _, ok := strings.Cut(i.Email, "@"); ok && local != "" {
		return local
	}
	return i.UserID
}
