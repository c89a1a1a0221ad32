// Package timealarm implements the ACPI _GRT/_SRT timestamp wire format:
// the 16-byte packed layout the host reads and writes to get/set the EC's
// real-time clock, including its timezone and daylight-saving-time
// encoding.
package timealarm

import (
	"encoding/binary"

	"ecfabric/errcode"
)

// RawSize is the fixed packed size of an ACPI timestamp.
const RawSize = 16

// DaylightStatus mirrors the ACPI timestamp's daylight field. Value 2
// (adjusted but not observed) is nonsensical per the ACPI spec's own
// flag pairing and is never produced or accepted.
type DaylightStatus uint8

const (
	NotObserved DaylightStatus = 0
	NotAdjusted DaylightStatus = 1
	Adjusted    DaylightStatus = 3
)

func (s DaylightStatus) valid() bool {
	switch s {
	case NotObserved, NotAdjusted, Adjusted:
		return true
	default:
		return false
	}
}

// unknownTimeZoneSentinel is the ACPI reserved value meaning "no timezone
// relation to UTC can be inferred".
const unknownTimeZoneSentinel = 2047

// TimeZone is either Unknown or an offset from UTC in minutes.
type TimeZone struct {
	known        bool
	minutesUTC   int16
}

// UnknownTimeZone is the zero-information timezone value.
var UnknownTimeZone = TimeZone{}

// NewTimeZone validates minutesFromUTC against the ACPI range [-1440, 1440].
func NewTimeZone(minutesFromUTC int16) (TimeZone, error) {
	if minutesFromUTC < -1440 || minutesFromUTC > 1440 {
		return TimeZone{}, errcode.New("timealarm.NewTimeZone", errcode.InvalidData)
	}
	return TimeZone{known: true, minutesUTC: minutesFromUTC}, nil
}

// Known reports whether the timezone carries a real UTC offset.
func (tz TimeZone) Known() bool { return tz.known }

// MinutesFromUTC returns the offset; valid only when Known() is true.
func (tz TimeZone) MinutesFromUTC() int16 { return tz.minutesUTC }

func timeZoneFromRaw(v int16) TimeZone {
	if v == unknownTimeZoneSentinel {
		return UnknownTimeZone
	}
	return TimeZone{known: true, minutesUTC: v}
}

func (tz TimeZone) toRaw() int16 {
	if !tz.known {
		return unknownTimeZoneSentinel
	}
	return tz.minutesUTC
}

// Timestamp is the decoded form of a RawAcpiTimestamp.
type Timestamp struct {
	Year         uint16
	Month        uint8
	Day          uint8
	Hour         uint8
	Minute       uint8
	Second       uint8
	Valid        bool // for _GRT: false means the request failed
	Milliseconds uint16
	TimeZone     TimeZone
	Daylight     DaylightStatus
}

// AsBytes encodes ts to the 16-byte ACPI wire layout:
// year(u16 LE), month, day, hour, minute, second, valid_or_padding,
// milliseconds(u16 LE), time_zone(i16 LE), daylight, reserved[3].
func (ts Timestamp) AsBytes() [RawSize]byte {
	var out [RawSize]byte
	binary.LittleEndian.PutUint16(out[0:2], ts.Year)
	out[2] = ts.Month
	out[3] = ts.Day
	out[4] = ts.Hour
	out[5] = ts.Minute
	out[6] = ts.Second
	if ts.Valid {
		out[7] = 1
	}
	binary.LittleEndian.PutUint16(out[8:10], ts.Milliseconds)
	binary.LittleEndian.PutUint16(out[10:12], uint16(ts.TimeZone.toRaw()))
	out[12] = byte(ts.Daylight)
	// out[13:16] reserved, left zero
	return out
}

// FromBytes decodes a 16-byte ACPI timestamp, validating the daylight
// field and the embedded timezone range.
func FromBytes(raw []byte) (Timestamp, error) {
	if len(raw) < RawSize {
		return Timestamp{}, errcode.New("timealarm.FromBytes", errcode.InvalidByteCount)
	}
	daylight := DaylightStatus(raw[12])
	if !daylight.valid() {
		return Timestamp{}, errcode.New("timealarm.FromBytes", errcode.InvalidData)
	}
	tzRaw := int16(binary.LittleEndian.Uint16(raw[10:12]))
	tz := timeZoneFromRaw(tzRaw)
	if tz.known && (tz.minutesUTC < -1440 || tz.minutesUTC > 1440) {
		return Timestamp{}, errcode.New("timealarm.FromBytes", errcode.InvalidData)
	}

	return Timestamp{
		Year:         binary.LittleEndian.Uint16(raw[0:2]),
		Month:        raw[2],
		Day:          raw[3],
		Hour:         raw[4],
		Minute:       raw[5],
		Second:       raw[6],
		Valid:        raw[7] != 0,
		Milliseconds: binary.LittleEndian.Uint16(raw[8:10]),
		TimeZone:     tz,
		Daylight:     daylight,
	}, nil
}
