package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration config value such as "30s" or "15m".
// An empty (or all-whitespace) value is valid and yields zero; negative
// durations are rejected. path names the config key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: cannot parse %q as a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback: an unset or
// zero value yields def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
