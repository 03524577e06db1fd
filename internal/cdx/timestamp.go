package cdx

import (
	"fmt"
	"time"
)

// timestampLayout is the 14-digit capture timestamp format used by CDX
// indexes and memento URLs.
const timestampLayout = "20060102150405"

// padTemplate supplies the month/day/time digits for short timestamps,
// so "2010" expands to midnight on January 1st rather than an invalid date.
const padTemplate = "00000101000000"

// Timestamp is a 14-digit YYYYMMDDHHMMSS capture timestamp. The fixed width
// makes lexicographic comparison equivalent to temporal comparison, which the
// local index relies on for ordering keys.
type Timestamp string

// ParseTimestamp validates and normalizes a timestamp string. Prefixes of at
// least four digits are accepted and padded down (year only, year+month, and
// so on), matching the usual archival index convention.
func ParseTimestamp(raw string) (Timestamp, error) {
	if len(raw) < 4 || len(raw) > len(padTemplate) {
		return "", fmt.Errorf("timestamp %q: want 4-14 digits in YYYYMMDDHHMMSS form", raw)
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("timestamp %q: non-digit character %q", raw, c)
		}
	}
	padded := raw + padTemplate[len(raw):]
	if _, err := time.Parse(timestampLayout, padded); err != nil {
		return "", fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return Timestamp(padded), nil
}

// TimestampOf converts a wall-clock time to a capture timestamp in UTC.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(timestampLayout))
}

// Time converts the timestamp back to a UTC time.Time. Zero and malformed
// timestamps yield the zero time.
func (t Timestamp) Time() time.Time {
	parsed, err := time.Parse(timestampLayout, string(t))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// After reports whether t is strictly later than other.
func (t Timestamp) After(other Timestamp) bool {
	return string(t) > string(other)
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool {
	return t == ""
}

func (t Timestamp) String() string {
	return string(t)
}
