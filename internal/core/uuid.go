package core

import (
	"regexp"

	"github.com/google/uuid"
)

var (
	uuidPattern   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	uuidV7Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

// NewUUIDv7 returns a time-ordered UUIDv7 string. Job ids sort by creation
// time, which the key-scanning stores rely on for oldest-first ordering.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsValidUUIDv7 reports whether s is a lower-case UUIDv7.
func IsValidUUIDv7(s string) bool {
	return uuidV7Pattern.MatchString(s)
}

// IsValidUUID reports whether s is a lower-case UUID of any version.
func IsValidUUID(s string) bool {
	return uuidPattern.MatchString(s)
}
