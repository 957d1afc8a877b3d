package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var retentionUnits = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseRetention parses retention durations as written in pipeline
// descriptors: either a Go duration ("30m", "2h45m") or a count with a
// spelled out unit ("1 day", "2 weeks").
func ParseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q is not positive", s)
		}
		return d, nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("unparsable duration %q", s)
	}

	count, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("unparsable duration %q", s)
	}

	unit, ok := retentionUnits[strings.TrimSuffix(strings.ToLower(fields[1]), "s")]
	if !ok {
		return 0, fmt.Errorf("unknown duration unit %q", fields[1])
	}

	return time.Duration(count) * unit, nil
}
