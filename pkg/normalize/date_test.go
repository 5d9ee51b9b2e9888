package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateAbsolute(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"January 15, 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"Jan 2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"15 January 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"in 2023", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"during March 2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		date, err := ParseDate(c.in, nil)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, *date, c.in)
	}
}

func TestParseDateRelativeNeedsAnchor(t *testing.T) {
	_, err := ParseDate("last month", nil)
	assert.Error(t, err)

	anchor := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	date, err := ParseDate("last month", &anchor)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), *date)

	date, err = ParseDate("yesterday", &anchor)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), *date)
}

func TestParseDateUnparsable(t *testing.T) {
	_, err := ParseDate("sometime soon", nil)
	assert.Error(t, err)
	_, err = ParseDate("", nil)
	assert.Error(t, err)
}

func TestFindDate(t *testing.T) {
	date := FindDate("Apple acquired DarwinAI in January 2024 for an undisclosed sum", nil)
	require.NotNil(t, date)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *date)

	assert.Nil(t, FindDate("no dates in this sentence", nil))

	// A relative expression is only usable when the anchor is known.
	assert.Nil(t, FindDate("revenue grew last year", nil))
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	date = FindDate("revenue grew last year", &anchor)
	require.NotNil(t, date)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), *date)
}
