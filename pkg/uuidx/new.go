package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new UUID using the version 7 format and returns it as a string.
func NewString() string {
	return New().String()
}

// NewThreadID synthesizes an identifier for a conversation thread that was
// started without one. The "thread_" prefix matches the identifiers minted by
// the assistant backend, so downstream consumers can treat both the same way.
func NewThreadID() string {
	return "thread_" + NewString()
}
