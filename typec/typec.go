// Package typec holds the data model shared between a Type-C controller
// wrapper and the services that drive it: port identifiers, port status,
// and the power-capability conversions used when a PD contract changes.
package typec

import "ecfabric/power/policy"

// ControllerID identifies one physical PD controller.
type ControllerID uint8

// GlobalPortID identifies a port across all controllers in the system.
type GlobalPortID uint8

// LocalPortID identifies a port local to one controller.
type LocalPortID uint8

// PortEventKind is a bit-field union of port status and notification
// events. Bits below 16 are status events; bits 16 and above are
// notification events.
type PortEventKind uint32

const (
	EventPlugInsertedOrRemoved       PortEventKind = 1 << 0
	EventNewPowerContractAsConsumer  PortEventKind = 1 << 1
	EventNewPowerContractAsProvider  PortEventKind = 1 << 2
	EventSinkReady                   PortEventKind = 1 << 3
	EventAltModeEntered              PortEventKind = 1 << 4
	EventAltModeExited               PortEventKind = 1 << 5
	EventDpStatusUpdated             PortEventKind = 1 << 6

	EventPdAlert        PortEventKind = 1 << 16
	EventVdmReceived     PortEventKind = 1 << 17
	EventDebugAccessory  PortEventKind = 1 << 18
)

// Has reports whether bit is set in the receiver.
func (k PortEventKind) Has(bit PortEventKind) bool { return k&bit != 0 }

// ConnectionState is the attach/detach state of a port.
type ConnectionState int

const (
	ConnectionStateDetached ConnectionState = iota
	ConnectionStateAttachedSource
	ConnectionStateAttachedSink
)

// PortStatus is the hardware-reported state of one port at a point in
// time.
type PortStatus struct {
	ConnectionState        ConnectionState
	AvailableSourceContract *policy.PowerCapability
	AvailableSinkContract   *policy.PowerCapability
	UnconstrainedPower      bool
	AltModeEntered          bool
	DpStatusUpdated         bool
}

// ContractToCapability converts a PD contract's voltage/current pair into
// the power-policy capability type. The zero value of a missing contract
// is the caller's responsibility to check.
func ContractToCapability(voltageMv, currentMa uint16) policy.PowerCapability {
	return policy.PowerCapability{VoltageMv: voltageMv, CurrentMa: currentMa}
}

// Well-known default capabilities (USB-PD default contracts).
var (
	PowerCapabilityUSBDefaultUSB2 = policy.PowerCapability{VoltageMv: 5000, CurrentMa: 500}
	PowerCapabilityUSBDefaultUSB3 = policy.PowerCapability{VoltageMv: 5000, CurrentMa: 900}
	PowerCapability5V1A5          = policy.PowerCapability{VoltageMv: 5000, CurrentMa: 1500}
	PowerCapability5V3A0          = policy.PowerCapability{VoltageMv: 5000, CurrentMa: 3000}
)
