package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a duration setting such as "notifier.retry_base".
// Blank and zero values yield def; negative values are rejected.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("friendwatch config %s: %q is not a duration (e.g. 30s, 5m): %w", path, raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("friendwatch config %s: %q must not be negative", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
