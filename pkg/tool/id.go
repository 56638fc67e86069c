package tool

import "github.com/google/uuid"

// GenerateUUIDV7 returns a time-ordered id for new rows.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsUUID reports whether s parses as a UUID of any version.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
