package main

import (
	"context"
	"sync"
	"time"

	"ecfabric/cfu"
	"ecfabric/typec"
	"ecfabric/typec/controller"
)

// simDriver is a host-testable stand-in for a physical PD controller: it
// has no bus transactions of its own, just in-memory state a background
// goroutine mutates to simulate a device attaching to port 0 a moment
// after startup. It exists so cmd/ecsim can drive the full fabric without
// real silicon, the same role the teacher's mock device builders play in
// services/hal/internal/devices for its own demo binaries.
type simDriver struct {
	events chan typec.LocalPortID

	mu        sync.Mutex
	status    map[typec.LocalPortID]typec.PortStatus
	pending   map[typec.LocalPortID]typec.PortEventKind
	fwVersion uint32
}

func newSimDriver() *simDriver {
	return &simDriver{
		events:  make(chan typec.LocalPortID, 4),
		status:  make(map[typec.LocalPortID]typec.PortStatus),
		pending: make(map[typec.LocalPortID]typec.PortEventKind),
	}
}

// run simulates one attach cycle on port 0: after a short delay a sink
// contract appears, then the port's sink-ready bit latches.
func (d *simDriver) run(ctx context.Context) {
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return
	}

	cap := typec.ContractToCapability(5000, 3000)
	d.mu.Lock()
	d.status[0] = typec.PortStatus{
		ConnectionState:       typec.ConnectionStateAttachedSink,
		AvailableSinkContract: &cap,
		UnconstrainedPower:    true,
	}
	d.pending[0] |= typec.EventPlugInsertedOrRemoved
	d.mu.Unlock()
	d.emit(ctx, 0)

	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}

	d.mu.Lock()
	d.pending[0] |= typec.EventSinkReady
	d.mu.Unlock()
	d.emit(ctx, 0)
}

func (d *simDriver) emit(ctx context.Context, port typec.LocalPortID) {
	select {
	case d.events <- port:
	case <-ctx.Done():
	}
}

func (d *simDriver) WaitPortEvent(ctx context.Context) (typec.LocalPortID, error) {
	select {
	case p := <-d.events:
		return p, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *simDriver) GetPortStatus(ctx context.Context, port typec.LocalPortID, cached bool) (typec.PortStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[port], nil
}

func (d *simDriver) ClearPortEvents(ctx context.Context, port typec.LocalPortID) (typec.PortEventKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.pending[port]
	d.pending[port] = 0
	return ev, nil
}

func (d *simDriver) EnableSinkPath(ctx context.Context, port typec.LocalPortID, enable bool) error {
	return nil
}

func (d *simDriver) GetPdAlert(ctx context.Context, port typec.LocalPortID) (*controller.Ado, error) {
	return nil, nil
}

func (d *simDriver) SetUnconstrainedPower(ctx context.Context, port typec.LocalPortID, unconstrained bool) error {
	return nil
}

func (d *simDriver) SetMaxSinkVoltage(ctx context.Context, port typec.LocalPortID, voltageMv *uint16) error {
	return nil
}

func (d *simDriver) ReconfigureRetimer(ctx context.Context, port typec.LocalPortID) error { return nil }

func (d *simDriver) ClearDeadBatteryFlag(ctx context.Context, port typec.LocalPortID) error { return nil }

func (d *simDriver) GetRtFwUpdateStatus(ctx context.Context, port typec.LocalPortID) (controller.RetimerFwUpdateState, error) {
	return controller.RetimerFwUpdateInactive, nil
}

func (d *simDriver) SetRtFwUpdateState(ctx context.Context, port typec.LocalPortID) error   { return nil }
func (d *simDriver) ClearRtFwUpdateState(ctx context.Context, port typec.LocalPortID) error { return nil }
func (d *simDriver) SetRtCompliance(ctx context.Context, port typec.LocalPortID) error      { return nil }

func (d *simDriver) GetControllerStatus(ctx context.Context) (controller.ControllerStatus, error) {
	return controller.ControllerStatus{Mode: "ecsim", ValidFwBank: true}, nil
}

func (d *simDriver) SyncState(ctx context.Context) error       { return nil }
func (d *simDriver) ResetController(ctx context.Context) error { return nil }

func (d *simDriver) GetActiveFwVersion(ctx context.Context) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fwVersion, nil
}

func (d *simDriver) StartFwUpdate(ctx context.Context) error  { return nil }
func (d *simDriver) AbortFwUpdate(ctx context.Context) error  { return nil }
func (d *simDriver) FinalizeFwUpdate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fwVersion++
	return nil
}

func (d *simDriver) WriteFwContents(ctx context.Context, offset int, data []byte) error { return nil }

// alwaysAcceptValidator accepts every firmware offer outright; a real
// deployment would inject a validator that checks rollback rules and
// signing, per controller.FwOfferValidator.
type alwaysAcceptValidator struct{}

func (alwaysAcceptValidator) Validate(ctx context.Context, currentVersion uint32, offer cfu.OfferCommand) cfu.Response {
	return cfu.Response{Kind: cfu.OfferResponse, OfferStatus: cfu.OfferAccept}
}

var _ controller.Driver = (*simDriver)(nil)
var _ controller.FwOfferValidator = alwaysAcceptValidator{}
