package controller

import (
	"ecfabric/cfu"
	"ecfabric/deferred"
	"ecfabric/power/policy"
	"ecfabric/typec"
)

// EventKind tags which field of Event is populated.
type EventKind int

const (
	EventPortStatusChanged EventKind = iota
	EventPowerPolicyCommand
	EventControllerCommand
	EventCfu
)

// EventPortStatusChangedData names which local port has a pending
// hardware event latched on the controller.
type EventPortStatusChangedData struct {
	Port typec.LocalPortID
}

// EventPowerPolicyCommandData wraps one power-policy CommandData bound
// for a specific port's attached power device.
type EventPowerPolicyCommandData struct {
	Port    typec.LocalPortID
	Request deferred.Request[policy.CommandData, policy.Response]
}

// EventCfuData is a CFU request forwarded from the Wrapper's own
// cfu.Component adapter.
type EventCfuData struct {
	Request deferred.Request[cfu.RequestData, cfu.Response]
}

// Event is one input Wrapper.Run selects across. Exactly one variant is
// populated, named by Kind.
type Event struct {
	Kind              EventKind
	PortStatusChanged EventPortStatusChangedData
	PowerPolicy       EventPowerPolicyCommandData
	Controller        deferred.Request[Command, Response]
	Cfu               EventCfuData
}

// OutputKind tags which field of Output is populated.
type OutputKind int

const (
	OutputNop OutputKind = iota
	OutputPortStatusChanged
	OutputPdAlert
)

// OutputPortStatusChangedData is broadcast on the comms bus whenever a
// port reports an alt-mode entry/exit or a DP status update. Plug events
// produce no output.
type OutputPortStatusChangedData struct {
	Port        typec.LocalPortID
	StatusEvent typec.PortEventKind
	Status      typec.PortStatus
}

// OutputPdAlertData is broadcast whenever a port reports a PD alert.
type OutputPdAlertData struct {
	Port typec.LocalPortID
	Ado  Ado
}

// Output is what one Run iteration produces: at most one of these per
// input processed, matching the one-input-one-output discipline.
type Output struct {
	Kind              OutputKind
	PortStatusChanged OutputPortStatusChangedData
	PdAlert           OutputPdAlertData
}
