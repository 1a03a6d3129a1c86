package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/solace/internal/apierr"
)

// Input limits.
const (
	DefaultUserID   = "default_user"
	maxMessageRunes = 4000
	maxUserIDLen    = 128
)

// UserType is who the user lost.
type UserType string

const (
	Partner UserType = "partner"
	Family  UserType = "family"
	Pet     UserType = "pet"
)

// DefaultUserType is used when a request names none.
const DefaultUserType = Partner

var userTypeLabels = map[UserType]string{
	Partner: "伴侣",
	Family:  "亲人",
	Pet:     "宠物",
}

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	_, ok := userTypeLabels[t]
	return ok
}

// Label returns the display label for t.
func (t UserType) Label() string {
	return userTypeLabels[t]
}

// ParseUserType converts a name into a UserType; empty selects the default.
func ParseUserType(name string) (UserType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultUserType, nil
	}
	t := UserType(name)
	if !t.Valid() {
		return "", apierr.Invalid("userType must be one of partner, family, pet, got %q", name)
	}
	return t, nil
}

// validUserIDChar returns true if the character is allowed in a user id.
func validUserIDChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_.@:", r)
}

// normalizeUserID trims the id and rejects characters outside
// validUserIDChar. Empty selects DefaultUserID.
func normalizeUserID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultUserID, nil
	}
	if len(id) > maxUserIDLen {
		return "", apierr.Invalid("userId longer than %d bytes", maxUserIDLen)
	}
	for _, r := range id {
		if !validUserIDChar(r) {
			return "", apierr.Invalid("userId contains invalid character %q", r)
		}
	}
	return id, nil
}

// normalize validates r in place. Nothing downstream runs unless it
// succeeds.
func (r *ChatRequest) normalize() error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return apierr.Invalid("message is required")
	}
	id, err := normalizeUserID(r.UserID)
	if err != nil {
		return err
	}
	r.UserID = id
	t, err := ParseUserType(string(r.UserType))
	if err != nil {
		return err
	}
	r.UserType = t
	r.Message = truncateClean(r.Message, maxMessageRunes)
	return nil
}

// truncateClean cuts s to at most maxRunes runes, backing up to the last
// space when one is close, so the cut does not split a word.
func truncateClean(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)[:maxRunes]
	truncated := string(runes)
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > len(truncated)-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
