package controller

import (
	"context"
	"time"

	"ecfabric/cfu"
	"ecfabric/comms"
	"ecfabric/deferred"
	"ecfabric/power/flags"
	"ecfabric/power/policy"
	"ecfabric/telemetry"
	"ecfabric/typec"
)

// DefaultFwRecoveryTimeout bounds how long an in-progress firmware update
// may go without an offer or a content chunk before the wrapper aborts it and restores
// the controller to its normal operating state.
const DefaultFwRecoveryTimeout = 10 * time.Second

// UnconstrainedSinkMode selects how a port's unconstrained-power bit is
// derived when reporting a new sink contract to the power-policy engine.
type UnconstrainedSinkMode int

const (
	// UnconstrainedAuto passes through whatever the driver's PortStatus
	// reports for the port.
	UnconstrainedAuto UnconstrainedSinkMode = iota
	// UnconstrainedThreshold marks a contract unconstrained once its
	// MaxPowerMw reaches Config.UnconstrainedThresholdMw.
	UnconstrainedThreshold
	// UnconstrainedNever never reports a port as unconstrained, regardless
	// of what the driver or the contract says.
	UnconstrainedNever
)

// PortConfig binds one local port to its global identity and the
// power-policy device handle the wrapper drives on its behalf.
type PortConfig struct {
	Local  typec.LocalPortID
	Global typec.GlobalPortID
	Device *policy.DeviceHandle
}

// Config configures one Wrapper instance.
type Config struct {
	Controller               typec.ControllerID
	Ports                    []PortConfig
	UnconstrainedSink        UnconstrainedSinkMode
	UnconstrainedThresholdMw uint32
	FwRecoveryTimeout        time.Duration
}

// FwOfferValidator decides whether an offered firmware version should be
// accepted, injected so policy (rollback rules, signing checks) stays out
// of the wrapper.
type FwOfferValidator interface {
	Validate(ctx context.Context, currentVersion uint32, offer cfu.OfferCommand) cfu.Response
}

type fwPhase int

const (
	fwIdle fwPhase = iota
	fwInProgress
)

type fwUpdateState struct {
	phase  fwPhase
	offset int
}

func (s fwUpdateState) InProgress() bool { return s.phase == fwInProgress }

// Wrapper is the per-controller event pump: one Run(ctx) goroutine merges
// hardware port events, each owned power device's commands, TCPM-issued
// controller commands, and CFU firmware-update traffic into a single
// serialized state evolution. Wrapper also implements cfu.Component, so it
// can be registered directly with a cfu.Coordinator under this
// controller's component ID.
type Wrapper struct {
	cfg       Config
	driver    Driver
	validator FwOfferValidator
	cm        *comms.Bus
	self      comms.EndpointID
	policy    comms.EndpointID
	sink      telemetry.Sink

	controllerRequests *deferred.Channel[Command, Response]
	cfuRequests        *deferred.Channel[cfu.RequestData, cfu.Response]

	activeEvents map[typec.LocalPortID]typec.PortEventKind
	lastStatus   map[typec.LocalPortID]typec.PortStatus
	fwUpdate     fwUpdateState
}

// NewWrapper constructs a Wrapper. policySource is the comms endpoint the
// power-policy engine broadcasts CommsMessage on; cm/sink may be nil for
// tests that don't exercise the broadcast or telemetry path.
func NewWrapper(cfg Config, driver Driver, validator FwOfferValidator, cm *comms.Bus, self, policySource comms.EndpointID, sink telemetry.Sink) *Wrapper {
	if cfg.FwRecoveryTimeout <= 0 {
		cfg.FwRecoveryTimeout = DefaultFwRecoveryTimeout
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Wrapper{
		cfg:                 cfg,
		driver:              driver,
		validator:           validator,
		cm:                  cm,
		self:                self,
		policy:              policySource,
		sink:                sink,
		controllerRequests:  deferred.NewChannel[Command, Response](1),
		cfuRequests:         deferred.NewChannel[cfu.RequestData, cfu.Response](1),
		activeEvents:        make(map[typec.LocalPortID]typec.PortEventKind),
		lastStatus:          make(map[typec.LocalPortID]typec.PortStatus),
	}
}

// Execute sends cmd to the running Wrapper and waits for its response;
// this is the entry point TCPM-layer callers use. A command that fails
// returns its Response.Err as the error result as well.
func (w *Wrapper) Execute(ctx context.Context, cmd Command) (Response, error) {
	resp, err := w.controllerRequests.Execute(ctx, cmd)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err
}

func (w *Wrapper) deviceFor(port typec.LocalPortID) *policy.DeviceHandle {
	for _, p := range w.cfg.Ports {
		if p.Local == port {
			return p.Device
		}
	}
	return nil
}

// Run drives the controller until ctx is cancelled. Each loop iteration
// processes exactly one input and produces at most one output, mutating
// w's own state under no lock but its own goroutine: no other code path
// ever touches activeEvents/lastStatus/fwUpdate.
func (w *Wrapper) Run(ctx context.Context) error {
	events := make(chan Event, 16)
	go w.pumpPortEvents(ctx, events)
	for _, p := range w.cfg.Ports {
		if p.Device == nil {
			continue
		}
		go w.pumpDeviceCommands(ctx, p, events)
	}
	go w.pumpControllerRequests(ctx, events)
	go w.pumpCfuRequests(ctx, events)

	var unconstrainedCh chan policy.CommsMessage
	if w.cm != nil {
		unconstrainedCh = make(chan policy.CommsMessage, 4)
		go w.pumpUnconstrained(ctx, unconstrainedCh)
	}

	recoveryTimer := time.NewTimer(w.cfg.FwRecoveryTimeout)
	stopTimer(recoveryTimer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			w.emit(w.processEvent(ctx, ev, recoveryTimer))

		case msg := <-unconstrainedCh:
			if msg.Data.Kind == policy.Unconstrained {
				if err := w.processUnconstrainedStateChange(ctx, msg.Data.Unconstrained); err != nil {
					w.sink.Log(telemetry.Event{Component: "typec/controller", Category: telemetry.CategoryError,
						Message: "unconstrained propagation failed", Err: err.Error()})
				}
			}

		case <-recoveryTimer.C:
			w.fwUpdate = fwUpdateState{}
			if err := w.driver.AbortFwUpdate(ctx); err != nil {
				w.sink.Log(telemetry.Event{Component: "typec/controller", Category: telemetry.CategoryError,
					Message: "fw update recovery abort failed", Err: err.Error()})
			}
		}
	}
}

func (w *Wrapper) emit(out Output) {
	if w.cm == nil || out.Kind == OutputNop {
		return
	}
	switch out.Kind {
	case OutputPortStatusChanged:
		w.cm.Broadcast(w.self, out.PortStatusChanged)
	case OutputPdAlert:
		w.cm.Broadcast(w.self, out.PdAlert)
	}
}

func (w *Wrapper) handleControllerRequest(ctx context.Context, req deferred.Request[Command, Response]) {
	cmd := req.Command
	switch cmd.Category {
	case PortCategory:
		resp, err := w.processPortCommand(ctx, cmd.Port)
		req.Respond(Response{Category: PortCategory, Err: err, Port: resp})
	case ControllerCategory:
		resp, err := w.processControllerCommand(ctx, cmd.Controller)
		req.Respond(Response{Category: ControllerCategory, Err: err, Controller: resp})
	}
}

// ---- pump goroutines: fan blocking Receive/WaitPortEvent calls into the
// single select loop above. ----

func (w *Wrapper) pumpPortEvents(ctx context.Context, out chan<- Event) {
	for {
		port, err := w.driver.WaitPortEvent(ctx)
		if err != nil {
			return
		}
		ev := Event{Kind: EventPortStatusChanged, PortStatusChanged: EventPortStatusChangedData{Port: port}}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wrapper) pumpDeviceCommands(ctx context.Context, p PortConfig, out chan<- Event) {
	for {
		req, err := p.Device.Commands.Receive(ctx)
		if err != nil {
			return
		}
		ev := Event{Kind: EventPowerPolicyCommand, PowerPolicy: EventPowerPolicyCommandData{Port: p.Local, Request: req}}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wrapper) pumpControllerRequests(ctx context.Context, out chan<- Event) {
	for {
		req, err := w.controllerRequests.Receive(ctx)
		if err != nil {
			return
		}
		ev := Event{Kind: EventControllerCommand, Controller: req}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wrapper) pumpCfuRequests(ctx context.Context, out chan<- Event) {
	for {
		req, err := w.cfuRequests.Receive(ctx)
		if err != nil {
			return
		}
		ev := Event{Kind: EventCfu, Cfu: EventCfuData{Request: req}}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wrapper) pumpUnconstrained(ctx context.Context, out chan<- policy.CommsMessage) {
	sub := w.cm.Subscribe(w.policy)
	for {
		select {
		case msg := <-sub.Channel():
			if data, ok := msg.Payload.(policy.CommsMessage); ok {
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// ---- timer helpers, grounded on the teacher's own reset/drain idiom ----

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		drainTimer(t)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// capabilityFromContract converts a negotiated PD contract into the
// power-policy consumer capability the engine arbitrates over.
func capabilityFromContract(contract policy.PowerCapability, unconstrained bool) policy.ConsumerCapability {
	f := flags.ConsumerNone
	if unconstrained {
		f = f.WithUnconstrainedPower()
	}
	return policy.ConsumerCapability{Capability: contract, Flags: f}
}
