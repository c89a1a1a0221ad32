// Package service wires the comms fabric, the power-policy engine, one or
// more Type-C controller wrappers, and the CFU coordinator into a single
// running fabric, the way the teacher's main.go wires its bus and HAL
// service together.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ecfabric/cfu"
	"ecfabric/comms"
	"ecfabric/power/policy"
	"ecfabric/telemetry"
	"ecfabric/typec"
	"ecfabric/typec/controller"
)

// ControllerConfig describes one physical Type-C controller to wire into
// the fabric: its driver, the local ports it owns, and the firmware-update
// policy it should run under.
type ControllerConfig struct {
	ID                       typec.ControllerID
	Driver                   controller.Driver
	Validator                controller.FwOfferValidator
	Ports                    []typec.LocalPortID
	UnconstrainedSink        controller.UnconstrainedSinkMode
	UnconstrainedThresholdMw uint32
	FwRecoveryTimeout        time.Duration
	CfuComponent             cfu.ComponentID
}

// Config describes an entire fabric instance.
type Config struct {
	Policy      policy.Config
	Controllers []ControllerConfig
}

// Fabric bundles one running instance of every service-fabric component:
// the comms bus they share, the power-policy engine, every registered
// controller wrapper, and the CFU coordinator routing update traffic to
// them.
type Fabric struct {
	Comms       *comms.Bus
	Policy      *policy.Engine
	CFU         *cfu.Coordinator
	Controllers map[typec.ControllerID]*controller.Wrapper

	sink telemetry.Sink
}

// New assembles a Fabric from cfg: it creates the comms bus and the policy
// engine, registers one power-policy device per configured port, and
// builds/registers one controller.Wrapper per ControllerConfig. Nothing is
// started until Run.
func New(cfg Config, sink telemetry.Sink) (*Fabric, error) {
	if sink == nil {
		sink = telemetry.Noop{}
	}

	cm := comms.NewBus(32)
	policySelf := comms.Internal(comms.KindPower)
	engine := policy.NewEngine(cfg.Policy, cm, policySelf, sink)
	coordinator := cfu.NewCoordinator()

	fab := &Fabric{
		Comms:       cm,
		Policy:      engine,
		CFU:         coordinator,
		Controllers: make(map[typec.ControllerID]*controller.Wrapper, len(cfg.Controllers)),
		sink:        sink,
	}

	wrapperSelf := comms.Internal(comms.KindUsbc)
	for _, cc := range cfg.Controllers {
		ports := make([]controller.PortConfig, 0, len(cc.Ports))
		for _, local := range cc.Ports {
			devID := policy.DeviceID(uint8(cc.ID)<<4 | uint8(local))
			handle, err := engine.RegisterDevice(devID)
			if err != nil {
				return nil, err
			}
			ports = append(ports, controller.PortConfig{
				Local:  local,
				Global: typec.GlobalPortID(devID),
				Device: handle,
			})
		}

		w := controller.NewWrapper(controller.Config{
			Controller:               cc.ID,
			Ports:                    ports,
			UnconstrainedSink:        cc.UnconstrainedSink,
			UnconstrainedThresholdMw: cc.UnconstrainedThresholdMw,
			FwRecoveryTimeout:        cc.FwRecoveryTimeout,
		}, cc.Driver, cc.Validator, cm, wrapperSelf, policySelf, sink)

		if err := coordinator.RegisterComponent(cc.CfuComponent, w); err != nil {
			return nil, err
		}
		fab.Controllers[cc.ID] = w
	}

	return fab, nil
}

// Run starts the policy engine and every controller wrapper's event pump
// and blocks until ctx is cancelled or one of them exits on its own.
func (f *Fabric) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(f.Controllers))

	go func() { errCh <- f.Policy.Run(ctx) }()
	for _, w := range f.Controllers {
		w := w
		go func() { errCh <- w.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ConnectHost mints a session id for a newly connected external host,
// the way mash-go's transport layer mints a per-connection uuid, and logs
// the session's start.
func (f *Fabric) ConnectHost() string {
	id := uuid.New().String()
	f.sink.Log(telemetry.Event{
		Component: "service",
		Category:  telemetry.CategoryStateChange,
		Message:   "host session connected: " + id,
	})
	return id
}
