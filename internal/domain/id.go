package domain

import "github.com/google/uuid"

// NewID generates a time-ordered UUIDv7 for sessions and turns.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
