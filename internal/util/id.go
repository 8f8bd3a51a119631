package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("req_3f9c...").
// Prefixed IDs drop the dashes so they stay a single token in logs.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
