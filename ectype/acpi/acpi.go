// Package acpi implements the battery service's ACPI method payload codec:
// the wire framing _BIX/_BST/_STA and friends travel over, and the buffer
// builders that fill the fixed-size ACPI return structures from a battery's
// cached static/dynamic telemetry.
package acpi

import (
	"encoding/binary"

	"ecfabric/errcode"
)

// AcpiCmd enumerates the ACPI battery methods the host can invoke.
type AcpiCmd uint8

const (
	GetBix AcpiCmd = 1
	GetBst AcpiCmd = 2
	GetPsr AcpiCmd = 3
	GetPif AcpiCmd = 4
	GetBps AcpiCmd = 5
	SetBtp AcpiCmd = 6
	SetBpt AcpiCmd = 7
	GetBpc AcpiCmd = 8
	SetBmc AcpiCmd = 9
	GetBmd AcpiCmd = 10
	GetBct AcpiCmd = 11
	GetBtm AcpiCmd = 12
	SetBms AcpiCmd = 13
	SetBma AcpiCmd = 14
	GetSta AcpiCmd = 15
)

// AcpiCmdFromRaw validates a raw command byte against the enumerated set.
func AcpiCmdFromRaw(v byte) (AcpiCmd, error) {
	switch AcpiCmd(v) {
	case GetBix, GetBst, GetPsr, GetPif, GetBps, SetBtp, SetBpt, GetBpc,
		SetBmc, GetBmd, GetBct, GetBtm, SetBms, SetBma, GetSta:
		return AcpiCmd(v), nil
	default:
		return 0, errcode.New("acpi.AcpiCmdFromRaw", errcode.InvalidData)
	}
}

// Payload is the wire envelope every ACPI method request/response carries:
// a version/instance/reserved triple, a command code, and a variable-length
// data section.
type Payload struct {
	Version  byte
	Instance byte
	Reserved byte
	Command  AcpiCmd
	Data     []byte
}

// FromRaw parses the first size bytes of raw into a Payload. The data
// section aliases raw[4:size]; callers that need to retain it past the
// caller's buffer reuse should copy it.
func FromRaw(raw []byte, size int) (Payload, error) {
	if size < 4 || size > len(raw) {
		return Payload{}, errcode.New("acpi.FromRaw", errcode.InvalidData)
	}
	cmd, err := AcpiCmdFromRaw(raw[3])
	if err != nil {
		return Payload{}, errcode.Wrap("acpi.FromRaw", errcode.InvalidData, err)
	}
	return Payload{
		Version:  raw[0],
		Instance: raw[1],
		Reserved: raw[2],
		Command:  cmd,
		Data:     raw[4:size],
	}, nil
}

// ToRaw serializes p into buf, returning the number of bytes written.
func (p Payload) ToRaw(buf []byte) (int, error) {
	n := len(p.Data) + 4
	if len(buf) < n {
		return 0, errcode.New("acpi.ToRaw", errcode.BufferTooSmall)
	}
	buf[0] = p.Version
	buf[1] = p.Instance
	buf[2] = p.Reserved
	buf[3] = byte(p.Command)
	copy(buf[4:n], p.Data)
	return n, nil
}

// PowerUnit mirrors the ACPI _BIX power-unit field.
type PowerUnit uint32

const (
	PowerUnitMilliWatts PowerUnit = 0
	PowerUnitMilliAmps  PowerUnit = 1
)

// BatteryTechnology mirrors the ACPI _BIX battery-technology field.
type BatteryTechnology uint32

const (
	BatteryTechnologyPrimary   BatteryTechnology = 0
	BatteryTechnologySecondary BatteryTechnology = 1
)

// BatterySwapCapability mirrors the ACPI _BIX swapping-capability field.
type BatterySwapCapability uint32

const (
	BatterySwapNonSwappable BatterySwapCapability = 0
	BatterySwapColdSwappable BatterySwapCapability = 1
	BatterySwapHotSwappable  BatterySwapCapability = 2
)

// BatteryState is the ACPI _BST battery-state bitmask.
type BatteryState uint32

const (
	BatteryStateDischarging BatteryState = 1 << 0
	BatteryStateCharging    BatteryState = 1 << 1
	BatteryStateCritical    BatteryState = 1 << 2
)

// StaticBatteryInfo is the unchanging half of a battery's identity: the
// fields a fuel gauge reports once at attach and never again.
type StaticBatteryInfo struct {
	CapacityMode      bool // true: PowerUnitMilliWatts, false: PowerUnitMilliAmps
	DesignCapacityMwh uint32
	DesignVoltageMv   uint32
}

// DynamicBatteryInfo is the half that changes every sample.
type DynamicBatteryInfo struct {
	StatusDischarging    bool
	RemainingCapacityMwh uint32
	CurrentMa            int32
	VoltageMv            uint32
	FullChargeCapacityMwh uint32
	CycleCount           uint16
	MaxErrorPct          uint8
}

// bixFieldCount is the number of 32-bit fields ComputeBIX fills before the
// four (always-empty, in this host simulation) ASCIIZ string fields.
const bixFieldCount = 17

// BixSize is the total byte length ComputeBIX returns: 17 LE uint32 fields
// followed by 4 single-byte ASCIIZ string terminators.
const BixSize = bixFieldCount*4 + 4

// ComputeBST fills the 16-byte ACPI _BST return buffer from a battery's
// dynamic telemetry.
func ComputeBST(d DynamicBatteryInfo) [16]byte {
	var state BatteryState
	if d.StatusDischarging {
		state = BatteryStateDischarging
	} else {
		state = BatteryStateCharging
	}
	rate := d.CurrentMa
	if rate < 0 {
		rate = -rate
	}

	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], uint32(state))
	binary.LittleEndian.PutUint32(out[4:8], uint32(rate))
	binary.LittleEndian.PutUint32(out[8:12], d.RemainingCapacityMwh)
	binary.LittleEndian.PutUint32(out[12:16], d.VoltageMv)
	return out
}

// ComputeBIX fills the full ACPI _BIX return buffer from a battery's static
// and dynamic telemetry, writing every field the reference structure
// defines (measurement accuracy is derived from MaxErrorPct; the
// sampling-time and averaging-interval fields the fuel gauge doesn't expose
// are filled with the ACPI "not supported" sentinel 0xFFFFFFFF, matching the
// upstream driver's own placeholder values).
func ComputeBIX(s StaticBatteryInfo, d DynamicBatteryInfo) [BixSize]byte {
	powerUnit := PowerUnitMilliAmps
	if s.CapacityMode {
		powerUnit = PowerUnitMilliWatts
	}
	accuracy := uint32(100-d.MaxErrorPct) * 1000

	fields := [bixFieldCount]uint32{
		1, // revision
		uint32(powerUnit),
		s.DesignCapacityMwh,
		d.FullChargeCapacityMwh,
		uint32(BatteryTechnologySecondary),
		s.DesignVoltageMv,
		0, // design capacity of warning: not read from this fuel gauge
		0, // design capacity of low: not read from this fuel gauge
		uint32(d.CycleCount),
		accuracy,
		0xFFFFFFFF, // max sampling time: unsupported
		0xFFFFFFFF, // min sampling time: unsupported
		0xFFFFFFFF, // max averaging interval: unsupported
		0xFFFFFFFF, // min averaging interval: unsupported
		1,          // battery capacity granularity 1
		1,          // battery capacity granularity 2
		uint32(BatterySwapNonSwappable),
	}

	var out [BixSize]byte
	for i, f := range fields {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], f)
	}
	// model number / serial number / battery type / oem info: this host
	// simulation has none of these strings, each is an empty ASCIIZ string.
	base := bixFieldCount * 4
	out[base] = 0
	out[base+1] = 0
	out[base+2] = 0
	out[base+3] = 0
	return out
}
