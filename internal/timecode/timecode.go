// Package timecode parses and formats the timestamps and intervals used on
// the authoring boundary: extended ISO-8601 with millisecond precision and a
// Z suffix, intervals as two endpoints joined by "/".
package timecode

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical external timestamp format.
const Layout = "2006-01-02T15:04:05.000Z"

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidInterval  = errors.New("invalid interval")
)

// Parse reads a UTC timestamp. Any sub-second precision is accepted on input
// but the string must carry the Z suffix.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("%w: %q lacks Z suffix", ErrInvalidTimestamp, s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, err)
	}
	return t.UTC(), nil
}

// Format writes t in the canonical layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Interval is the half-open span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates that end is strictly after start.
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// ParseInterval reads "start/end".
func ParseInterval(s string) (Interval, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("%w: %q must be start/end", ErrInvalidInterval, s)
	}
	start, err := Parse(parts[0])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: start: %w", ErrInvalidInterval, err)
	}
	end, err := Parse(parts[1])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: end: %w", ErrInvalidInterval, err)
	}
	return NewInterval(start, end)
}

// Validate rejects zero endpoints and end <= start.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: missing endpoint", ErrInvalidInterval)
	}
	if !iv.End.After(iv.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidInterval, Format(iv.End), Format(iv.Start))
	}
	return nil
}

// Contains reports Start <= t < End.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Offset is the playback position of t inside the interval.
func (iv Interval) Offset(t time.Time) time.Duration {
	return t.Sub(iv.Start)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return Format(iv.Start) + "/" + Format(iv.End)
}

// MarshalText implements encoding.TextMarshaler so intervals round-trip
// through YAML and JSON as a single string.
func (iv Interval) MarshalText() ([]byte, error) {
	return []byte(iv.String()), nil
}

func (iv *Interval) UnmarshalText(b []byte) error {
	parsed, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}
