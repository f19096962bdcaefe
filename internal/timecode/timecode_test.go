package timecode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndFormat(t *testing.T) {
	ts, err := Parse("2024-01-01T00:00:05.250Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 5, 250*int(time.Millisecond), time.UTC), ts)
	assert.Equal(t, "2024-01-01T00:00:05.250Z", Format(ts))
}

func TestParseRejects(t *testing.T) {
	tests := []string{
		"",
		"2024-01-01T00:00:05",
		"2024-01-01T00:00:05+02:00",
		"yesterday Z",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.ErrorIs(t, err, ErrInvalidTimestamp)
		})
	}
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("2024-01-01T00:00:05.000Z/2024-01-01T00:00:12.000Z")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, iv.Duration())
	assert.Equal(t, "2024-01-01T00:00:05.000Z/2024-01-01T00:00:12.000Z", iv.String())

	_, err = ParseInterval("2024-01-01T00:00:12.000Z/2024-01-01T00:00:05.000Z")
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = ParseInterval("2024-01-01T00:00:05.000Z/2024-01-01T00:00:05.000Z")
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = ParseInterval("2024-01-01T00:00:05.000Z")
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestIntervalContainsIsHalfOpen(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iv, err := NewInterval(base.Add(2*time.Second), base.Add(7*time.Second))
	require.NoError(t, err)

	assert.False(t, iv.Contains(base))
	assert.True(t, iv.Contains(base.Add(2*time.Second)))
	assert.True(t, iv.Contains(base.Add(6999*time.Millisecond)))
	assert.False(t, iv.Contains(base.Add(7*time.Second)))
	assert.Equal(t, 3*time.Second, iv.Offset(base.Add(5*time.Second)))
}

func TestIntervalText(t *testing.T) {
	var iv Interval
	require.NoError(t, iv.UnmarshalText([]byte("2024-01-01T00:00:02.000Z/2024-01-01T00:00:07.000Z")))
	b, err := iv.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:02.000Z/2024-01-01T00:00:07.000Z", string(b))
}
