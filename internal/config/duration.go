package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// leading whole days, e.g. the "7d" in "7d12h".
var dayPrefix = regexp.MustCompile(`^(\d+)d`)

// ParseDuration reads a config duration. Besides time.ParseDuration syntax it
// takes a leading day count ("2d", "1d6h") and a bare number of seconds
// ("90"), the form env overrides usually carry. Empty is zero.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", path)
		}
		return time.Duration(n) * time.Second, nil
	}

	var days time.Duration
	if m := dayPrefix.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[len(m[0]):]
	}
	var rest time.Duration
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
		}
		rest = d
	}
	if rest < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return days + rest, nil
}

// ParseDurationOrDefault is ParseDuration with def for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
