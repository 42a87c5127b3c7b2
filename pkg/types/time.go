package types

import (
	"fmt"
	"time"
)

// ISOTime is a UTC timestamp that always serializes as ISO-8601 with a
// trailing "Z" and never an offset, regardless of the driver or zone the
// value was scanned with.
type ISOTime time.Time

// NewISOTime converts t to UTC and truncates sub-second precision, matching
// the resolution the store keeps.
func NewISOTime(t time.Time) ISOTime {
	return ISOTime(t.UTC().Truncate(time.Second))
}

// Time returns the underlying time.Time in UTC.
func (t ISOTime) Time() time.Time {
	return time.Time(t).UTC()
}

// IsZero reports whether the timestamp is unset.
func (t ISOTime) IsZero() bool {
	return time.Time(t).IsZero()
}

// String renders the RFC-3339 UTC form, e.g. "2025-11-19T07:30:00Z".
func (t ISOTime) String() string {
	return t.Time().Format(time.RFC3339)
}

// MarshalJSON implements json.Marshaler.
func (t ISOTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. It accepts RFC-3339 with any
// offset and normalizes to UTC.
func (t *ISOTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	parsed, err := time.Parse(time.RFC3339, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = ISOTime(parsed.UTC())
	return nil
}
