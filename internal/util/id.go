package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}

// ShapeID returns a fresh id in the canvas shape namespace.
func ShapeID() string {
	return "shape:" + uuid.NewString()
}

// CommandID returns a fresh AI command correlation id.
func CommandID() string {
	return NewID("cmd")
}
