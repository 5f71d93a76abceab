// Package config loads SPELL_API_* environment variables, following the
// teacher's cmd/helm/main.go convention of direct os.Getenv reads with
// defaults rather than a config-file library.
package config

import (
	"os"
	"strconv"
	"strings"
)

// String reads key, returning fallback when unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Int reads key as a base-10 integer, returning fallback when unset, empty,
// or malformed.
func Int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Int64 reads key as a base-10 int64, returning fallback when unset, empty,
// or malformed.
func Int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// Bool reads key, true only for the literal string "true".
func Bool(key string) bool {
	return os.Getenv(key) == "true"
}

// CSV splits a comma-separated env var value into its non-empty entries.
func CSV(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
