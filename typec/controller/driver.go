// Package controller implements the per-controller Type-C wrapper: one
// event pump that merges hardware port events, policy-engine commands,
// TCPM-originated controller commands, and CFU firmware-update traffic
// into a single serialized state evolution, at most one output per
// iteration.
package controller

import (
	"context"

	"ecfabric/typec"
)

// RetimerFwUpdateState mirrors the retimer's own firmware-update state
// machine, reported back to the TCPM layer on request.
type RetimerFwUpdateState int

const (
	RetimerFwUpdateInactive RetimerFwUpdateState = iota
	RetimerFwUpdateActive
)

// ControllerStatus is the driver's self-reported identity and firmware
// bank state.
type ControllerStatus struct {
	Mode        string
	ValidFwBank bool
	FwVersion0  uint32
	FwVersion1  uint32
}

// Ado is a PD Alert Data Object: the payload a port's PD alert
// notification carries, read back from the driver on demand.
type Ado struct {
	Raw uint32
}

// Driver is the hardware abstraction a Wrapper drives: one physical PD
// controller spanning Ports local ports. Every method may block on a bus
// transaction; Wrapper has no state mutex, so no lock is held across a
// Driver call.
type Driver interface {
	// WaitPortEvent blocks until the controller has a pending port event
	// and returns which local port it's for. Wrapper.Run calls it from its
	// own goroutine, concurrently with the other Driver methods that the
	// Run loop calls.
	WaitPortEvent(ctx context.Context) (typec.LocalPortID, error)

	GetPortStatus(ctx context.Context, port typec.LocalPortID, cached bool) (typec.PortStatus, error)
	ClearPortEvents(ctx context.Context, port typec.LocalPortID) (typec.PortEventKind, error)
	EnableSinkPath(ctx context.Context, port typec.LocalPortID, enable bool) error
	GetPdAlert(ctx context.Context, port typec.LocalPortID) (*Ado, error)
	SetUnconstrainedPower(ctx context.Context, port typec.LocalPortID, unconstrained bool) error
	SetMaxSinkVoltage(ctx context.Context, port typec.LocalPortID, voltageMv *uint16) error
	ReconfigureRetimer(ctx context.Context, port typec.LocalPortID) error
	ClearDeadBatteryFlag(ctx context.Context, port typec.LocalPortID) error

	GetRtFwUpdateStatus(ctx context.Context, port typec.LocalPortID) (RetimerFwUpdateState, error)
	SetRtFwUpdateState(ctx context.Context, port typec.LocalPortID) error
	ClearRtFwUpdateState(ctx context.Context, port typec.LocalPortID) error
	SetRtCompliance(ctx context.Context, port typec.LocalPortID) error

	GetControllerStatus(ctx context.Context) (ControllerStatus, error)
	SyncState(ctx context.Context) error
	ResetController(ctx context.Context) error

	GetActiveFwVersion(ctx context.Context) (uint32, error)
	StartFwUpdate(ctx context.Context) error
	AbortFwUpdate(ctx context.Context) error
	FinalizeFwUpdate(ctx context.Context) error
	WriteFwContents(ctx context.Context, offset int, data []byte) error
}
