package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrUsernameInvalid is returned for usernames outside 3..32 characters.
var ErrUsernameInvalid = errors.New("username must be between 3 and 32 characters")

// Identity is the signed-in user as reported by the auth provider.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// Profile mirrors a row of the profiles table. ID equals the owning Identity.ID.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileInput captures the editable profile fields.
type ProfileInput struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Normalize trims both fields.
func (in ProfileInput) Normalize() ProfileInput {
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	return in
}

// Validate allows an empty username (unset); a non-empty one must be 3..32 runes.
func (in ProfileInput) Validate() error {
	n := len([]rune(in.Username))
	if n != 0 && (n < 3 || n > 32) {
		return ErrUsernameInvalid
	}
	return nil
}
