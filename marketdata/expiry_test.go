package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirations(t *testing.T) {
	opts := DefaultOptions()
	opts.Symbol = "BTC"
	exps := Expirations(readSnapshot(t, opts))

	require.Len(t, exps, 2)
	assert.Equal(t, Expiration{Timestamp: 1736496000, Label: "10JAN25", Count: 2}, exps[0])
	assert.Equal(t, "17JAN25", exps[1].Label)
	assert.Equal(t, 1, exps[1].Count)
}

func TestGroupByExpiration(t *testing.T) {
	slices := GroupByExpiration(readSnapshot(t, DefaultOptions()))

	require.Len(t, slices, 2)
	assert.Equal(t, "10JAN25", slices[0].Expiration.Label)
	assert.Len(t, slices[0].Rows, 3)
	assert.Equal(t, 3, slices[0].Expiration.Count)
	assert.Equal(t, 100000.0, slices[0].Rows[0].StrikePrice)
	assert.Equal(t, 3500.0, slices[0].Rows[2].StrikePrice)
	assert.Len(t, slices[1].Rows, 1)

	assert.Empty(t, GroupByExpiration(nil))
}

func TestParseExpiration(t *testing.T) {
	jan10 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC).Unix()
	for _, in := range []string{"10JAN25", "10jan25", "2025-01-10"} {
		got, err := ParseExpiration(in)
		require.NoError(t, err, in)
		assert.Equal(t, jan10, got, in)
	}

	got, err := ParseExpiration("1736496000")
	require.NoError(t, err)
	assert.Equal(t, int64(1736496000), got)

	_, err = ParseExpiration("next friday")
	assert.Error(t, err)
}

func TestFilterByExpiration(t *testing.T) {
	rows := readSnapshot(t, DefaultOptions())

	for exp, want := range map[string]int{
		"10JAN25":    3,
		"2025-01-17": 1,
		"1736496000": 3,
		"01FEB25":    0,
	} {
		got, err := FilterByExpiration(rows, exp)
		require.NoError(t, err, exp)
		assert.Len(t, got, want, exp)
	}

	_, err := FilterByExpiration(rows, "garbage")
	assert.Error(t, err)
}
