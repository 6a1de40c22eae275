// Package env reads typed configuration values from the process
// environment. Every reader takes a fallback that is returned when the
// variable is unset, so ConfigFromEnv constructors stay declarative.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key. Surrounding whitespace is a
// frequent artifact of compose files and shell exports and never means
// anything for the values we parse.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return strings.TrimSpace(v), ok
}

// String returns the value of key, or def when the variable is unset.
func String(key string, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// Int parses key as a base-10 integer.
func Int(key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return i, nil
}

// Bool parses key with strconv.ParseBool, so "1", "t", "true" and their
// uppercase forms all count.
func Bool(key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// Duration parses key as a Go duration string such as "750ms" or "2m".
func Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
