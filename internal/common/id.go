package common

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID generates a UUID string for entity primary keys
func NewID() string {
	return uuid.New().String()
}

// NewJobRef generates a short human-readable job reference for logs and UI.
// Format: job_<12 hex chars>
func NewJobRef() string {
	u := uuid.New()
	return "job_" + hex.EncodeToString(u[:6])
}

// IsValidID reports whether s parses as a UUID
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
