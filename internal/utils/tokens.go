package utils

import (
	"strings"

	"github.com/segmentio/ksuid"
)

// NewRequestID returns a sortable unique id for request correlation.
func NewRequestID() string {
	return ksuid.New().String()
}

// NormalizeEmail is the key used for lookups and throttle buckets.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
