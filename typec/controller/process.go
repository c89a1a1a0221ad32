package controller

import (
	"context"
	"time"

	"ecfabric/cfu"
	"ecfabric/errcode"
	"ecfabric/power/policy"
	"ecfabric/telemetry"
	"ecfabric/typec"
)

// processPortStatusEvent handles one hardware port event: drain the
// driver's latched event bits, read the fresh status, fold the new bits
// into the port's pending-event accumulator (drained later by a
// ClearEventsCmd), and react to the events that have downstream effects.
func (w *Wrapper) processPortStatusEvent(ctx context.Context, port typec.LocalPortID) (Output, error) {
	newEvents, err := w.driver.ClearPortEvents(ctx, port)
	if err != nil {
		return Output{}, errcode.Wrap("controller.processPortStatusEvent", errcode.Failed, err)
	}
	status, err := w.driver.GetPortStatus(ctx, port, false)
	if err != nil {
		return Output{}, errcode.Wrap("controller.processPortStatusEvent", errcode.Failed, err)
	}

	w.activeEvents[port] |= newEvents
	w.lastStatus[port] = status

	dev := w.deviceFor(port)

	if newEvents.Has(typec.EventPlugInsertedOrRemoved) {
		if status.ConnectionState != typec.ConnectionStateDetached {
			if dev != nil && status.AvailableSinkContract != nil {
				cap := capabilityFromContract(*status.AvailableSinkContract, w.unconstrainedFor(status))
				_ = dev.NotifyAttached(ctx)
				_ = dev.NotifyConsumerPowerCapability(ctx, &cap)
			}
		} else if dev != nil {
			_ = dev.NotifyDisconnect(ctx)
			_ = dev.NotifyDetached(ctx)
		}
	}

	if newEvents.Has(typec.EventNewPowerContractAsConsumer) && dev != nil && status.AvailableSinkContract != nil {
		cap := capabilityFromContract(*status.AvailableSinkContract, w.unconstrainedFor(status))
		_ = dev.NotifyConsumerPowerCapability(ctx, &cap)
	}

	if newEvents.Has(typec.EventSinkReady) && dev != nil {
		_ = w.driver.EnableSinkPath(ctx, port, true)
	}

	if newEvents.Has(typec.EventAltModeEntered) || newEvents.Has(typec.EventAltModeExited) || newEvents.Has(typec.EventDpStatusUpdated) {
		return Output{Kind: OutputPortStatusChanged, PortStatusChanged: OutputPortStatusChangedData{
			Port: port, StatusEvent: newEvents, Status: status,
		}}, nil
	}

	if newEvents.Has(typec.EventPdAlert) {
		ado, err := w.driver.GetPdAlert(ctx, port)
		if err == nil && ado != nil {
			return Output{Kind: OutputPdAlert, PdAlert: OutputPdAlertData{Port: port, Ado: *ado}}, nil
		}
	}

	return Output{Kind: OutputNop}, nil
}

// processEvent dispatches one Event off the unified select loop, updating
// the firmware-update recovery timer after each CFU request: an offer or a
// content chunk restarts it while an update is in progress, and it is
// stopped once no update is in progress.
func (w *Wrapper) processEvent(ctx context.Context, ev Event, recoveryTimer *time.Timer) Output {
	switch ev.Kind {
	case EventPortStatusChanged:
		out, err := w.processPortStatusEvent(ctx, ev.PortStatusChanged.Port)
		if err != nil {
			w.sink.Log(telemetry.Event{Component: "typec/controller", Category: telemetry.CategoryError,
				Message: "port status event failed", Err: err.Error()})
			return Output{Kind: OutputNop}
		}
		return out

	case EventPowerPolicyCommand:
		resp := w.processPowerPolicyCommand(ctx, ev.PowerPolicy.Port, ev.PowerPolicy.Request.Command)
		ev.PowerPolicy.Request.Respond(resp)
		return Output{Kind: OutputNop}

	case EventControllerCommand:
		w.handleControllerRequest(ctx, ev.Controller)
		return Output{Kind: OutputNop}

	case EventCfu:
		resp := w.processCfuRequest(ctx, ev.Cfu.Request.Command)
		ev.Cfu.Request.Respond(resp)
		if w.fwUpdate.InProgress() {
			if k := ev.Cfu.Request.Command.Kind; k == cfu.GiveOffer || k == cfu.GiveContent {
				resetTimer(recoveryTimer, w.cfg.FwRecoveryTimeout)
			}
		} else {
			stopTimer(recoveryTimer)
		}
		return Output{Kind: OutputNop}

	default:
		return Output{Kind: OutputNop}
	}
}

// unconstrainedFor derives the unconstrained-power bit reported to the
// power-policy engine for a freshly observed status, per Config's
// UnconstrainedSink policy.
func (w *Wrapper) unconstrainedFor(status typec.PortStatus) bool {
	switch w.cfg.UnconstrainedSink {
	case UnconstrainedNever:
		return false
	case UnconstrainedThreshold:
		return status.AvailableSinkContract != nil && status.AvailableSinkContract.MaxPowerMw() >= w.cfg.UnconstrainedThresholdMw
	default: // UnconstrainedAuto
		return status.UnconstrainedPower
	}
}

// processUnconstrainedStateChange replicates the reference implementation's
// exact branches for propagating a system-wide unconstrained-power change
// down to this controller's own ports' hardware registers.
func (w *Wrapper) processUnconstrainedStateChange(ctx context.Context, state policy.UnconstrainedState) error {
	if !state.Unconstrained {
		return w.setUnconstrainedAll(ctx, false)
	}

	if state.Available > 1 {
		// Multiple unconstrained consumers available system-wide: every
		// port on this controller can be told it's unconstrained.
		return w.setUnconstrainedAll(ctx, true)
	}

	unconstrainedIdx := -1
	for i, p := range w.cfg.Ports {
		st, ok := w.lastStatus[p.Local]
		if ok && st.AvailableSinkContract != nil && st.UnconstrainedPower {
			unconstrainedIdx = i
			break
		}
	}

	if unconstrainedIdx < 0 {
		// The system is unconstrained, but not by one of our ports.
		return w.setUnconstrainedAll(ctx, true)
	}

	// One of our own ports is the unconstrained consumer: if it switched to
	// sourcing the system would no longer be unconstrained, so keep that
	// port constrained and unconstrain every other port.
	for i, p := range w.cfg.Ports {
		if err := w.driver.SetUnconstrainedPower(ctx, p.Local, i != unconstrainedIdx); err != nil {
			return errcode.Wrap("controller.processUnconstrainedStateChange", errcode.Failed, err)
		}
	}
	return nil
}

func (w *Wrapper) setUnconstrainedAll(ctx context.Context, unconstrained bool) error {
	for _, p := range w.cfg.Ports {
		if err := w.driver.SetUnconstrainedPower(ctx, p.Local, unconstrained); err != nil {
			return errcode.Wrap("controller.setUnconstrainedAll", errcode.Failed, err)
		}
	}
	return nil
}

// processPowerPolicyCommand executes a command the power-policy engine
// sent to one of this controller's owned devices: actually driving the
// sink path, since the policy engine has no hardware access of its own.
func (w *Wrapper) processPowerPolicyCommand(ctx context.Context, port typec.LocalPortID, cmd policy.CommandData) policy.Response {
	switch cmd.Kind {
	case policy.ConnectAsConsumer:
		if err := w.driver.EnableSinkPath(ctx, port, true); err != nil {
			return policy.Response{Err: errcode.Wrap("controller.processPowerPolicyCommand", errcode.Failed, err)}
		}
		return policy.Response{}
	case policy.ConnectAsProvider:
		// Source-path negotiation happens through the PD contract itself;
		// there's nothing further for the wrapper to drive here.
		return policy.Response{}
	case policy.Disconnect:
		if err := w.driver.EnableSinkPath(ctx, port, false); err != nil {
			return policy.Response{Err: errcode.Wrap("controller.processPowerPolicyCommand", errcode.Failed, err)}
		}
		return policy.Response{}
	default:
		return policy.Response{Err: errcode.New("controller.processPowerPolicyCommand", errcode.UnrecognizedCommand)}
	}
}

// processPortCommand answers one TCPM-issued port-scoped command, gated on
// no firmware update being in progress.
func (w *Wrapper) processPortCommand(ctx context.Context, cmd PortCommandData) (PortResponseData, error) {
	if w.fwUpdate.InProgress() {
		return PortResponseData{}, errcode.New("controller.processPortCommand", errcode.Busy)
	}

	switch cmd.Kind {
	case PortStatusCmd:
		status, err := w.driver.GetPortStatus(ctx, cmd.Port, cmd.Cached)
		if err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortStatusResp, Status: status}, nil

	case ClearEventsCmd:
		ev := w.activeEvents[cmd.Port]
		w.activeEvents[cmd.Port] = 0
		return PortResponseData{Kind: ClearEventsResp, ClearedEvents: ev}, nil

	case RetimerFwUpdateGetStateCmd:
		st, err := w.driver.GetRtFwUpdateStatus(ctx, cmd.Port)
		if err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: RtFwUpdateStatusResp, RtFwUpdateStatus: st}, nil

	case RetimerFwUpdateSetStateCmd:
		if err := w.driver.SetRtFwUpdateState(ctx, cmd.Port); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	case RetimerFwUpdateClearStateCmd:
		if err := w.driver.ClearRtFwUpdateState(ctx, cmd.Port); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	case SetRetimerComplianceCmd:
		if err := w.driver.SetRtCompliance(ctx, cmd.Port); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	case ReconfigureRetimerCmd:
		if err := w.driver.ReconfigureRetimer(ctx, cmd.Port); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	case SetMaxSinkVoltageCmd:
		if err := w.driver.SetMaxSinkVoltage(ctx, cmd.Port, cmd.MaxSinkVoltageMv); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	case ClearDeadBatteryFlagCmd:
		if err := w.driver.ClearDeadBatteryFlag(ctx, cmd.Port); err != nil {
			return PortResponseData{}, errcode.Wrap("controller.processPortCommand", errcode.Failed, err)
		}
		return PortResponseData{Kind: PortCompleteResp}, nil

	default:
		return PortResponseData{}, errcode.New("controller.processPortCommand", errcode.UnrecognizedCommand)
	}
}

// processControllerCommand answers one TCPM-issued controller-scoped
// command, gated on no firmware update being in progress.
func (w *Wrapper) processControllerCommand(ctx context.Context, cmd ControllerCommandData) (ControllerResponseData, error) {
	if w.fwUpdate.InProgress() {
		return ControllerResponseData{}, errcode.New("controller.processControllerCommand", errcode.Busy)
	}

	switch cmd.Kind {
	case StatusCmd:
		st, err := w.driver.GetControllerStatus(ctx)
		if err != nil {
			return ControllerResponseData{}, errcode.Wrap("controller.processControllerCommand", errcode.Failed, err)
		}
		return ControllerResponseData{Kind: ControllerStatusResp, Status: st}, nil

	case SyncStateCmd:
		if err := w.driver.SyncState(ctx); err != nil {
			return ControllerResponseData{}, errcode.Wrap("controller.processControllerCommand", errcode.Failed, err)
		}
		return ControllerResponseData{Kind: ControllerCompleteResp}, nil

	case ResetCmd:
		if err := w.driver.ResetController(ctx); err != nil {
			return ControllerResponseData{}, errcode.Wrap("controller.processControllerCommand", errcode.Failed, err)
		}
		return ControllerResponseData{Kind: ControllerCompleteResp}, nil

	default:
		return ControllerResponseData{}, errcode.New("controller.processControllerCommand", errcode.UnrecognizedCommand)
	}
}

// processCfuRequest answers one CFU request addressed to this controller.
// Unlike port/controller commands it never returns a Go error: CFU
// business failures are encoded in the returned cfu.Response itself, per
// the CFU protocol's own accept/reject vocabulary.
func (w *Wrapper) processCfuRequest(ctx context.Context, req cfu.RequestData) cfu.Response {
	switch req.Kind {
	case cfu.FwVersionRequest:
		ver, err := w.driver.GetActiveFwVersion(ctx)
		if err != nil {
			return cfu.Response{Kind: cfu.FwVersionResponse}
		}
		return cfu.Response{Kind: cfu.FwVersionResponse, FwVersion: ver}

	case cfu.GiveOffer:
		current, _ := w.driver.GetActiveFwVersion(ctx)
		resp := w.validator.Validate(ctx, current, req.Offer)
		if resp.OfferStatus == cfu.OfferAccept {
			if err := w.driver.StartFwUpdate(ctx); err != nil {
				return cfu.Response{Kind: cfu.OfferResponse, OfferStatus: cfu.OfferReject, OfferRejectReason: cfu.RejectReasonMismatch}
			}
			w.fwUpdate = fwUpdateState{phase: fwInProgress}
		}
		return resp

	case cfu.GiveContent:
		if !w.fwUpdate.InProgress() {
			return cfu.Response{Kind: cfu.ContentResponse, OfferStatus: cfu.OfferReject}
		}
		if err := w.driver.WriteFwContents(ctx, w.fwUpdate.offset, req.Content.Data); err != nil {
			return cfu.Response{Kind: cfu.ContentResponse, OfferStatus: cfu.OfferReject}
		}
		w.fwUpdate.offset += len(req.Content.Data)
		return cfu.Response{Kind: cfu.ContentResponse, OfferStatus: cfu.OfferAccept}

	case cfu.PrepareComponentForUpdate:
		return cfu.Response{Kind: cfu.CompleteResponse}

	case cfu.FinalizeUpdate:
		err := w.driver.FinalizeFwUpdate(ctx)
		w.fwUpdate = fwUpdateState{}
		if err != nil {
			return cfu.Response{Kind: cfu.CompleteResponse, OfferStatus: cfu.OfferReject}
		}
		return cfu.Response{Kind: cfu.CompleteResponse}

	default:
		return cfu.Response{}
	}
}

// ---- cfu.Component: the Wrapper can be registered directly with a
// cfu.Coordinator, forwarding every call through its own deferred channel
// so the state mutation above always happens on the Run goroutine. ----

func (w *Wrapper) FwVersion(ctx context.Context) (uint32, error) {
	resp, err := w.cfuRequests.Execute(ctx, cfu.RequestData{Kind: cfu.FwVersionRequest})
	if err != nil {
		return 0, err
	}
	return resp.FwVersion, nil
}

func (w *Wrapper) GiveOffer(ctx context.Context, offer cfu.OfferCommand) (cfu.Response, error) {
	return w.cfuRequests.Execute(ctx, cfu.RequestData{Kind: cfu.GiveOffer, Offer: offer})
}

func (w *Wrapper) GiveContent(ctx context.Context, content cfu.ContentCommand) (cfu.Response, error) {
	return w.cfuRequests.Execute(ctx, cfu.RequestData{Kind: cfu.GiveContent, Content: content})
}

func (w *Wrapper) PrepareForUpdate(ctx context.Context) error {
	_, err := w.cfuRequests.Execute(ctx, cfu.RequestData{Kind: cfu.PrepareComponentForUpdate})
	return err
}

func (w *Wrapper) FinalizeUpdate(ctx context.Context) error {
	_, err := w.cfuRequests.Execute(ctx, cfu.RequestData{Kind: cfu.FinalizeUpdate})
	return err
}

var _ cfu.Component = (*Wrapper)(nil)
