package core

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var iso8601DurationPattern = regexp.MustCompile(`^PT(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseISO8601Duration parses the time part of an ISO 8601 duration
// ("PT30M", "PT1H30M", "PT0.5S"). Zero durations are rejected.
func ParseISO8601Duration(s string) (time.Duration, error) {
	m := iso8601DurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		total += time.Duration(f * float64(unit))
	}

	if total <= 0 {
		return 0, fmt.Errorf("ISO 8601 duration %q must be positive", s)
	}
	return total, nil
}

// FormatISO8601Duration renders d as "PT<h>H<m>M<s>S", omitting zero parts.
func FormatISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	out := "PT"
	if h := d / time.Hour; h > 0 {
		out += strconv.FormatInt(int64(h), 10) + "H"
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		out += strconv.FormatInt(int64(m), 10) + "M"
		d -= m * time.Minute
	}
	if d > 0 {
		out += strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
	}
	return out
}
