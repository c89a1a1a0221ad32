package timealarm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecfabric/timealarm"
)

func TestRoundTripKnownTimeZone(t *testing.T) {
	tz, err := timealarm.NewTimeZone(-480)
	require.NoError(t, err)

	ts := timealarm.Timestamp{
		Year: 2026, Month: 7, Day: 31, Hour: 12, Minute: 0, Second: 0,
		Valid: true, Milliseconds: 500, TimeZone: tz, Daylight: timealarm.Adjusted,
	}
	raw := ts.AsBytes()
	require.Len(t, raw, timealarm.RawSize)

	got, err := timealarm.FromBytes(raw[:])
	require.NoError(t, err)
	require.Equal(t, ts.Year, got.Year)
	require.True(t, got.TimeZone.Known())
	require.Equal(t, int16(-480), got.TimeZone.MinutesFromUTC())
	require.Equal(t, timealarm.Adjusted, got.Daylight)
}

func TestUnknownTimeZoneSentinel(t *testing.T) {
	ts := timealarm.Timestamp{Year: 2026, Month: 1, Day: 1, TimeZone: timealarm.UnknownTimeZone}
	raw := ts.AsBytes()

	got, err := timealarm.FromBytes(raw[:])
	require.NoError(t, err)
	require.False(t, got.TimeZone.Known())
}

func TestNewTimeZoneRejectsOutOfRange(t *testing.T) {
	_, err := timealarm.NewTimeZone(1441)
	require.Error(t, err)
	_, err = timealarm.NewTimeZone(-1441)
	require.Error(t, err)
}

func TestFromBytesRejectsInvalidDaylightValue(t *testing.T) {
	ts := timealarm.Timestamp{Daylight: timealarm.Adjusted}
	raw := ts.AsBytes()
	raw[12] = 2 // nonsensical: adjusted-but-not-observed
	_, err := timealarm.FromBytes(raw[:])
	require.Error(t, err)
}

func TestFromBytesRejectsShortBuffer(t *testing.T) {
	_, err := timealarm.FromBytes(make([]byte, 8))
	require.Error(t, err)
}
