package okxapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	ts := "2023-01-01T00:00:00.000Z"
	sig := Sign("secret-key", ts, "GET", "/users/self/verify", "")
	sig2 := Sign("secret-key", ts, "GET", "/users/self/verify", "")
	require.Equal(t, sig, sig2)
}

func TestSignChangesWithAnyInput(t *testing.T) {
	base := Sign("secret", "2023-01-01T00:00:00.000Z", "GET", "/a", "body")
	cases := []string{
		Sign("secret2", "2023-01-01T00:00:00.000Z", "GET", "/a", "body"),
		Sign("secret", "2023-01-01T00:00:00.001Z", "GET", "/a", "body"),
		Sign("secret", "2023-01-01T00:00:00.000Z", "POST", "/a", "body"),
		Sign("secret", "2023-01-01T00:00:00.000Z", "GET", "/b", "body"),
		Sign("secret", "2023-01-01T00:00:00.000Z", "GET", "/a", "body2"),
	}
	for _, c := range cases {
		assert.NotEqual(t, base, c)
	}
}

func TestWSLoginSignKnownVector(t *testing.T) {
	sig := WSLoginSign("secret-key", "2023-01-01T00:00:00.000Z")
	sig2 := Sign("secret-key", "2023-01-01T00:00:00.000Z", "GET", "/users/self/verify", "")
	require.Equal(t, sig2, sig)
}

func TestWSTimestampFormat(t *testing.T) {
	tm := time.Date(2023, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
	require.Equal(t, "1672531200.500", WSTimestamp(tm))
}

func TestWSTimestampPadsSubSecondFraction(t *testing.T) {
	tm := time.Date(2023, 1, 1, 0, 0, 0, 5_000_000, time.UTC)
	require.Equal(t, "1672531200.005", WSTimestamp(tm))

	tm = time.Date(2023, 1, 1, 0, 0, 0, 50_000_000, time.UTC)
	require.Equal(t, "1672531200.050", WSTimestamp(tm))
}

func TestFormatLeverageTrimsTrailingZeros(t *testing.T) {
	cases := map[float64]string{
		3:      "3",
		3.5:    "3.5",
		3.1234: "3.1234",
		0:      "0",
	}
	for in, want := range cases {
		got := FormatLeverage(in)
		assert.Equal(t, want, got, "lever=%v", in)
	}
}

func TestSanitizeTag(t *testing.T) {
	out, ok := SanitizeTag("ds-entry!!123456789012345")
	require.True(t, ok)
	assert.Equal(t, "dsentry123456789", out)
	assert.LessOrEqual(t, len(out), 16)

	_, ok = SanitizeTag("!!!")
	assert.False(t, ok)

	_, ok = SanitizeTag("")
	assert.False(t, ok)
}
