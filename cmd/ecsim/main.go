// Command ecsim is a host-simulation entry point: it wires the comms
// fabric, the power-policy engine, a simulated Type-C controller, and the
// CFU coordinator together the way the teacher's main.go wires its bus and
// HAL service, but against simDriver instead of real silicon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecfabric/cfu"
	"ecfabric/power/policy"
	"ecfabric/service"
	"ecfabric/telemetry"
	"ecfabric/typec"
	"ecfabric/typec/controller"
)

func main() {
	sink := telemetry.NewWriterSink(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver := newSimDriver()
	go driver.run(ctx)

	fab, err := service.New(service.Config{
		Policy: policy.DefaultConfig,
		Controllers: []service.ControllerConfig{
			{
				ID:                0,
				Driver:            driver,
				Validator:         alwaysAcceptValidator{},
				Ports:             []typec.LocalPortID{0, 1},
				UnconstrainedSink: controller.UnconstrainedAuto,
				FwRecoveryTimeout: 10 * time.Second,
				CfuComponent:      cfu.ComponentID(0),
			},
		},
	}, sink)
	if err != nil {
		sink.Log(telemetry.Event{Component: "ecsim", Category: telemetry.CategoryError,
			Message: "fabric assembly failed", Err: err.Error()})
		os.Exit(1)
	}

	sessionID := fab.ConnectHost()
	sink.Log(telemetry.Event{Component: "ecsim", Category: telemetry.CategoryStateChange,
		Message: "fabric starting, host session " + sessionID})

	if err := fab.Run(ctx); err != nil && ctx.Err() == nil {
		sink.Log(telemetry.Event{Component: "ecsim", Category: telemetry.CategoryError,
			Message: "fabric exited", Err: err.Error()})
		os.Exit(1)
	}
}
