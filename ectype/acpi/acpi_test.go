package acpi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecfabric/ectype/acpi"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := acpi.Payload{Version: 1, Instance: 0, Reserved: 0, Command: acpi.GetBix, Data: []byte{0xAA, 0xBB, 0xCC}}
	buf := make([]byte, 16)
	n, err := p.ToRaw(buf)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	got, err := acpi.FromRaw(buf, n)
	require.NoError(t, err)
	require.Equal(t, p.Version, got.Version)
	require.Equal(t, p.Command, got.Command)
	require.Equal(t, p.Data, got.Data)
}

func TestFromRawRejectsUnknownCommand(t *testing.T) {
	raw := []byte{1, 0, 0, 0xFF}
	_, err := acpi.FromRaw(raw, 4)
	require.Error(t, err)
}

func TestToRawRejectsBufferTooSmall(t *testing.T) {
	p := acpi.Payload{Command: acpi.GetBst, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	buf := make([]byte, 4)
	_, err := p.ToRaw(buf)
	require.Error(t, err)
}

func TestComputeBSTEncodesChargingState(t *testing.T) {
	out := acpi.ComputeBST(acpi.DynamicBatteryInfo{
		StatusDischarging:    false,
		RemainingCapacityMwh: 5000,
		CurrentMa:            -750,
		VoltageMv:            11100,
	})
	require.Equal(t, uint32(acpi.BatteryStateCharging), leU32(out[0:4]))
	require.Equal(t, uint32(750), leU32(out[4:8]))
	require.Equal(t, uint32(5000), leU32(out[8:12]))
	require.Equal(t, uint32(11100), leU32(out[12:16]))
}

func TestComputeBIXFillsEveryField(t *testing.T) {
	out := acpi.ComputeBIX(
		acpi.StaticBatteryInfo{CapacityMode: true, DesignCapacityMwh: 48000, DesignVoltageMv: 11400},
		acpi.DynamicBatteryInfo{FullChargeCapacityMwh: 46000, CycleCount: 120, MaxErrorPct: 2},
	)
	// Unlike the upstream reference, which leaves this buffer all zero due
	// to dead copy_from_slice calls, every field here must actually land.
	require.NotEqual(t, [acpi.BixSize]byte{}, out)
	require.Equal(t, uint32(1), leU32(out[0:4])) // revision
	require.Equal(t, uint32(acpi.PowerUnitMilliWatts), leU32(out[4:8]))
	require.Equal(t, uint32(48000), leU32(out[8:12]))
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
