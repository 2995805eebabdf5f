package utils

import "github.com/google/uuid"

// NewRunID returns a random identifier for one scoring run.
func NewRunID() string {
	return uuid.NewString()
}

// ShortID returns the first block of a run ID, for log lines.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
