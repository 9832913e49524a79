package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed identifier like "sty_1f2a...". An empty prefix
// yields the bare UUID without dashes.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
