// Package flags implements the bit-packed power-capability flag words:
// PsuType occupies bits 8-11 of both the consumer and provider flag words,
// and bit 0 of the consumer word additionally carries the
// unconstrained-power indicator.
package flags

import "ecfabric/errcode"

// PsuType is a 4-bit enumeration of the power-supply type a device
// reports. Values 3-11 and 16-255 are not assigned.
type PsuType uint8

const (
	PsuTypeUnknown PsuType = 0
	PsuTypeTypeC   PsuType = 1
	PsuTypeDcJack  PsuType = 2
	PsuTypeCustom0 PsuType = 12
	PsuTypeCustom1 PsuType = 13
	PsuTypeCustom2 PsuType = 14
	PsuTypeCustom3 PsuType = 15
)

func validPsuType(v uint8) bool {
	switch PsuType(v) {
	case PsuTypeUnknown, PsuTypeTypeC, PsuTypeDcJack,
		PsuTypeCustom0, PsuTypeCustom1, PsuTypeCustom2, PsuTypeCustom3:
		return true
	default:
		return false
	}
}

// PsuTypeFromRaw validates a raw 4-bit value, returning an
// errcode.InvalidData error for anything not in the enumerated set.
func PsuTypeFromRaw(v uint8) (PsuType, error) {
	if !validPsuType(v) {
		return PsuTypeUnknown, errcode.New("flags.PsuTypeFromRaw", errcode.InvalidData)
	}
	return PsuType(v), nil
}

const (
	unconstrainedBit = 1 << 0
	psuTypeShift      = 8
	psuTypeMask       = 0xF
)

// Consumer is the 32-bit consumer capability flag word: bit 0 is
// unconstrained-power, bits 8-11 are the PSU type.
type Consumer uint32

// ConsumerNone is the zero flag word.
const ConsumerNone Consumer = 0

// WithUnconstrainedPower returns a copy with the unconstrained-power bit set.
func (c Consumer) WithUnconstrainedPower() Consumer { return c | unconstrainedBit }

// UnconstrainedPower reports the unconstrained-power bit.
func (c Consumer) UnconstrainedPower() bool { return c&unconstrainedBit != 0 }

// SetUnconstrainedPower returns a copy with the bit set to v.
func (c Consumer) SetUnconstrainedPower(v bool) Consumer {
	if v {
		return c | unconstrainedBit
	}
	return c &^ unconstrainedBit
}

// PsuType extracts the PSU type, falling back to PsuTypeUnknown for any
// value outside the enumerated set (never returns an error, matching the
// reference implementation's read-side fallback behaviour).
func (c Consumer) PsuType() PsuType {
	raw := uint8((c >> psuTypeShift) & psuTypeMask)
	t, err := PsuTypeFromRaw(raw)
	if err != nil {
		return PsuTypeUnknown
	}
	return t
}

// WithPsuType returns a copy with the PSU type field set.
func (c Consumer) WithPsuType(t PsuType) Consumer {
	return (c &^ (psuTypeMask << psuTypeShift)) | Consumer(uint32(t)&psuTypeMask)<<psuTypeShift
}

// SetPsuType returns a copy with the PSU type field set, validating t.
func (c Consumer) SetPsuType(t PsuType) (Consumer, error) {
	if !validPsuType(uint8(t)) {
		return c, errcode.New("flags.Consumer.SetPsuType", errcode.InvalidData)
	}
	return c.WithPsuType(t), nil
}

// Provider is the 32-bit provider capability flag word: only bits 8-11
// (PSU type) are defined.
type Provider uint32

const ProviderNone Provider = 0

func (p Provider) PsuType() PsuType {
	raw := uint8((p >> psuTypeShift) & psuTypeMask)
	t, err := PsuTypeFromRaw(raw)
	if err != nil {
		return PsuTypeUnknown
	}
	return t
}

func (p Provider) WithPsuType(t PsuType) Provider {
	return (p &^ (psuTypeMask << psuTypeShift)) | Provider(uint32(t)&psuTypeMask)<<psuTypeShift
}

func (p Provider) SetPsuType(t PsuType) (Provider, error) {
	if !validPsuType(uint8(t)) {
		return p, errcode.New("flags.Provider.SetPsuType", errcode.InvalidData)
	}
	return p.WithPsuType(t), nil
}
