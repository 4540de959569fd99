package store

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ageUnits maps the suffix of an asset age to its length. Months and years
// are fixed 30 and 365 day spans.
var ageUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'm': 30 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// ParseAge parses how far back to look for cached assets, written as a
// count and a unit: "7d", "2w", "3m" or "1y".
func ParseAge(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid age %q (expected <count><d|w|m|y>, e.g. 7d)", s)
	}

	unit, ok := ageUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid age unit in %q (expected d, w, m or y)", s)
	}

	// ParseUint rejects signs, so "-7d" and "+7d" fail here.
	count, err := strconv.ParseUint(s[:len(s)-1], 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid age count in %q", s)
	}
	if count > uint64(math.MaxInt64/int64(unit)) {
		return 0, fmt.Errorf("age %q is too large", s)
	}

	return time.Duration(count) * unit, nil
}

// StoredSince returns the Unix time an asset must be stored at or after to
// be younger than age.
func StoredSince(age string, now time.Time) (int64, error) {
	d, err := ParseAge(age)
	if err != nil {
		return 0, err
	}
	return now.Add(-d).Unix(), nil
}

// BuildQueryOptions turns the assets command's flags into QueryOptions. An
// empty kind matches every kind and an empty since matches every age.
func BuildQueryOptions(kind string, limit, offset int, since string, now time.Time) (QueryOptions, error) {
	opts := QueryOptions{
		Limit:  limit,
		Offset: offset,
		Kind:   kind,
	}

	if limit < 0 || offset < 0 {
		return opts, fmt.Errorf("limit and offset must not be negative")
	}

	if since != "" {
		storedSince, err := StoredSince(since, now)
		if err != nil {
			return opts, fmt.Errorf("--since: %w", err)
		}
		opts.SinceTime = &storedSince
	}

	return opts, nil
}
