package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StaleSyncTimeout is how long an in-progress sync may go without a progress
// report before pollers treat it as dead and fail it.
//
// Set via env:
// - SYNC_STALE_TIMEOUT_SECONDS (default 900)
func StaleSyncTimeout() time.Duration {
	v := strings.TrimSpace(os.Getenv("SYNC_STALE_TIMEOUT_SECONDS"))
	if v == "" {
		return 15 * time.Minute
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(n) * time.Second
}

// EnvBool reads a boolean flag from env. Accepts 1/true/yes/y/on (case-insensitive).
func EnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
