package types

import (
	"regexp"
	"strings"
)

// Identity is who sent a chat event. ChatID addresses replies; Username is the
// handle other residents use to invite this person.
type Identity struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
}

var usernameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{2,31}$`)

// NormalizeUsername lowercases a handle and strips a leading "@".
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
}

// ValidUsername reports whether a normalized handle is a well-formed chat username.
func ValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// Handle returns the normalized username, or "" when the sender has none.
func (i Identity) Handle() string {
	return NormalizeUsername(i.Username)
}
