package policy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ecfabric/comms"
	"ecfabric/deferred"
	"ecfabric/errcode"
	"ecfabric/registry"
	"ecfabric/telemetry"
	"ecfabric/x/mathx"
)

// ProviderPowerState is the engine-wide provider arbitration mode.
type ProviderPowerState int

const (
	Unlimited ProviderPowerState = iota
	Limited
)

type deviceRecord struct {
	id       DeviceID
	commands *deferred.Channel[CommandData, Response]

	mu                   sync.Mutex
	state                DeviceState
	consumerCap          *ConsumerCapability
	requestedProviderCap *ProviderCapability
}

// DeviceHandle is the device-side view of a registered device: the
// methods a device driver calls to notify the engine of attach/detach and
// capability changes, and the channel it receives commands on.
type DeviceHandle struct {
	id      DeviceID
	engine  *Engine
	Commands *deferred.Channel[CommandData, Response]
}

func (h *DeviceHandle) ID() DeviceID { return h.id }

func (h *DeviceHandle) notify(ctx context.Context, req RequestData) error {
	req.Device = h.id
	resp, err := h.engine.requests.Execute(ctx, req)
	if err != nil {
		return err
	}
	return resp.Err
}

func (h *DeviceHandle) NotifyAttached(ctx context.Context) error {
	return h.notify(ctx, RequestData{Kind: NotifyAttached})
}

func (h *DeviceHandle) NotifyDetached(ctx context.Context) error {
	return h.notify(ctx, RequestData{Kind: NotifyDetached})
}

// NotifyConsumerPowerCapability reports (or clears, with cap == nil) this
// device's consumer capability.
func (h *DeviceHandle) NotifyConsumerPowerCapability(ctx context.Context, cap *ConsumerCapability) error {
	return h.notify(ctx, RequestData{Kind: NotifyConsumerPowerCapability, ConsumerCap: cap})
}

func (h *DeviceHandle) RequestProviderPowerCapability(ctx context.Context, cap ProviderCapability) error {
	return h.notify(ctx, RequestData{Kind: RequestProviderPowerCapability, ProviderCap: cap})
}

func (h *DeviceHandle) NotifyDisconnect(ctx context.Context) error {
	return h.notify(ctx, RequestData{Kind: NotifyDisconnect})
}

// Engine is the consumer/provider arbitration engine.
type Engine struct {
	cfg      Config
	devices  registry.Registry[*deviceRecord]
	requests *deferred.Channel[RequestData, Response]

	mu                 sync.Mutex
	currentConsumer    *DeviceID
	providerState      ProviderPowerState
	unconstrained      UnconstrainedState
	connectedProviders map[DeviceID]struct{}

	cm   *comms.Bus
	self comms.EndpointID
	sink telemetry.Sink
}

// NewEngine constructs an Engine. cm/self may be nil/zero for tests that
// don't exercise the broadcast path.
func NewEngine(cfg Config, cm *comms.Bus, self comms.EndpointID, sink telemetry.Sink) *Engine {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Engine{
		cfg:                cfg,
		requests:           deferred.NewChannel[RequestData, Response](8),
		connectedProviders: make(map[DeviceID]struct{}),
		cm:                 cm,
		self:               self,
		sink:               sink,
	}
}

// RegisterDevice installs a new device under id, starting in the Detached
// state, and returns the device-side handle.
func (e *Engine) RegisterDevice(id DeviceID) (*DeviceHandle, error) {
	rec := &deviceRecord{
		id:       id,
		commands: deferred.NewChannel[CommandData, Response](1),
		state:    DeviceState{Kind: Detached},
	}
	if err := e.devices.Push(deviceKey(id), rec); err != nil {
		return nil, err
	}
	return &DeviceHandle{id: id, engine: e, Commands: rec.commands}, nil
}

func deviceKey(id DeviceID) string { return "device#" + strconv.Itoa(int(id)) }

// Run processes device requests until ctx is cancelled. Every request is
// acknowledged immediately with Response{} (matching the reference
// implementation's "reply Complete, then perform side effects" ordering)
// before arbitration runs.
func (e *Engine) Run(ctx context.Context) error {
	for {
		req, err := e.requests.Receive(ctx)
		if err != nil {
			return err
		}
		cmd := req.Command
		req.Respond(Response{})
		e.processRequest(ctx, cmd)
	}
}

func (e *Engine) findDevice(id DeviceID) (*deviceRecord, bool) {
	return e.devices.Find(deviceKey(id))
}

func (e *Engine) processRequest(ctx context.Context, req RequestData) {
	rec, ok := e.findDevice(req.Device)
	if !ok {
		return
	}
	switch req.Kind {
	case NotifyAttached:
		rec.mu.Lock()
		rec.state = DeviceState{Kind: Idle}
		rec.mu.Unlock()

	case NotifyDetached:
		rec.mu.Lock()
		rec.state = DeviceState{Kind: Detached}
		rec.consumerCap = nil
		rec.requestedProviderCap = nil
		rec.mu.Unlock()
		e.removeConnectedProvider(req.Device)
		e.updateCurrentConsumer(ctx)

	case NotifyDisconnect:
		rec.mu.Lock()
		wasConsumer := rec.state.Kind == ConnectedConsumer
		rec.state = DeviceState{Kind: Idle}
		rec.mu.Unlock()
		if wasConsumer {
			e.mu.Lock()
			if e.currentConsumer != nil && *e.currentConsumer == req.Device {
				e.currentConsumer = nil
			}
			e.mu.Unlock()
		}
		e.removeConnectedProvider(req.Device)
		e.updateCurrentConsumer(ctx)

	case NotifyConsumerPowerCapability:
		rec.mu.Lock()
		rec.consumerCap = req.ConsumerCap
		rec.mu.Unlock()
		e.updateCurrentConsumer(ctx)

	case RequestProviderPowerCapability:
		rec.mu.Lock()
		cap := req.ProviderCap
		rec.requestedProviderCap = &cap
		rec.mu.Unlock()
		e.connectProvider(ctx, req.Device)
	}

	switch req.Kind {
	case NotifyAttached, NotifyDetached, NotifyDisconnect, NotifyConsumerPowerCapability:
		e.updateUnconstrained(ctx)
	}
}

// updateUnconstrained recomputes UnconstrainedState.Available as the count
// of attached devices whose last-notified consumer capability carries the
// unconstrained-power flag, and broadcasts CommsData{Kind: Unconstrained}
// whenever the result changes.
func (e *Engine) updateUnconstrained(ctx context.Context) {
	available := 0
	for _, rec := range e.devices.All() {
		rec.mu.Lock()
		attached := rec.state.Kind != Detached
		cap := rec.consumerCap
		rec.mu.Unlock()
		if attached && cap != nil && cap.Flags.UnconstrainedPower() {
			available++
		}
	}
	unconstrained := available > 0

	e.mu.Lock()
	changed := e.unconstrained.Available != available || e.unconstrained.Unconstrained != unconstrained
	e.unconstrained = UnconstrainedState{Unconstrained: unconstrained, Available: available}
	state := e.unconstrained
	e.mu.Unlock()

	if changed {
		e.commsNotify(ctx, CommsData{Kind: Unconstrained, Unconstrained: state})
	}
}

// updateCurrentConsumer recomputes which attached device should be the
// current consumer: the highest max_power_mw capability among attached
// devices that notified one, ties broken by earliest registration,
// respecting MinConsumerThresholdMw when configured.
func (e *Engine) updateCurrentConsumer(ctx context.Context) {
	type candidate struct {
		id  DeviceID
		cap ConsumerCapability
	}
	var best *candidate
	for _, rec := range e.devices.All() {
		rec.mu.Lock()
		attached := rec.state.Kind != Detached
		cap := rec.consumerCap
		rec.mu.Unlock()
		if !attached || cap == nil {
			continue
		}
		if e.cfg.MinConsumerThresholdMw != nil && cap.Capability.MaxPowerMw() < *e.cfg.MinConsumerThresholdMw {
			continue
		}
		if best == nil || cap.Capability.MaxPowerMw() > best.cap.Capability.MaxPowerMw() {
			best = &candidate{id: rec.id, cap: *cap}
		}
	}

	e.mu.Lock()
	prev := e.currentConsumer
	e.mu.Unlock()

	if best == nil {
		if prev != nil {
			e.disconnectConsumer(ctx, *prev)
			e.mu.Lock()
			e.currentConsumer = nil
			e.mu.Unlock()
		}
		return
	}
	if prev != nil && *prev == best.id {
		// Same device: re-arm with the (possibly updated) capability.
		e.connectConsumer(ctx, best.id, best.cap)
		return
	}
	if prev != nil {
		e.disconnectConsumer(ctx, *prev)
	}
	if e.connectConsumer(ctx, best.id, best.cap) {
		e.mu.Lock()
		id := best.id
		e.currentConsumer = &id
		e.mu.Unlock()
	}
}

func (e *Engine) connectConsumer(ctx context.Context, id DeviceID, cap ConsumerCapability) bool {
	rec, ok := e.findDevice(id)
	if !ok {
		return false
	}
	cctx, cancel := withTimeout(ctx, DefaultCommandTimeout)
	defer cancel()
	resp, err := rec.commands.Execute(cctx, CommandData{Kind: ConnectAsConsumer, ConsumerCap: cap})
	if err != nil || resp.Err != nil {
		e.sink.Log(telemetry.Event{Component: "power/policy", Category: telemetry.CategoryError,
			Message: "connect consumer failed", Err: firstErr(err, resp.Err).Error()})
		return false
	}
	rec.mu.Lock()
	rec.state = DeviceState{Kind: ConnectedConsumer, ConsumerCap: &cap}
	rec.mu.Unlock()
	e.commsNotify(ctx, CommsData{Kind: ConsumerConnected, Device: id, ConsumerCap: cap})
	return true
}

func (e *Engine) disconnectConsumer(ctx context.Context, id DeviceID) {
	rec, ok := e.findDevice(id)
	if !ok {
		return
	}
	cctx, cancel := withTimeout(ctx, DefaultCommandTimeout)
	defer cancel()
	_, _ = rec.commands.Execute(cctx, CommandData{Kind: Disconnect})
	rec.mu.Lock()
	rec.state = DeviceState{Kind: Idle}
	rec.mu.Unlock()
	e.commsNotify(ctx, CommsData{Kind: ConsumerDisconnected, Device: id})
}

// connectProvider replicates the reference arbitration algorithm: sum the
// requester's requested capability with every other connected provider's
// current capability; go Limited if the sum exceeds the threshold.
func (e *Engine) connectProvider(ctx context.Context, requester DeviceID) {
	rec, ok := e.findDevice(requester)
	if !ok {
		return
	}
	rec.mu.Lock()
	requested := rec.requestedProviderCap
	curState := rec.state.Kind
	rec.mu.Unlock()
	if requested == nil {
		return // no longer requesting
	}

	e.mu.Lock()
	total := requested.Capability.MaxPowerMw()
	for id := range e.connectedProviders {
		if id == requester {
			continue
		}
		if other, ok := e.findDevice(id); ok {
			other.mu.Lock()
			if other.state.Kind == ConnectedProvider && other.state.ProviderCap != nil {
				total += other.state.ProviderCap.Capability.MaxPowerMw()
			}
			other.mu.Unlock()
		}
	}
	newState := Unlimited
	if total > e.cfg.LimitedPowerThresholdMw {
		newState = Limited
	}
	e.providerState = newState
	e.mu.Unlock()

	var target ProviderCapability
	if newState == Limited {
		target = ProviderCapability{Capability: e.cfg.ProviderLimited, Flags: requested.Flags}
	} else {
		target = *requested
		if mathx.Min(target.Capability.MaxPowerMw(), e.cfg.ProviderUnlimited.MaxPowerMw()) != target.Capability.MaxPowerMw() ||
			target.Capability.MaxPowerMw() == e.cfg.ProviderUnlimited.MaxPowerMw() {
			target.Capability = e.cfg.ProviderUnlimited
		}
	}

	if curState != Idle && curState != ConnectedProvider {
		e.sink.Log(telemetry.Event{Component: "power/policy", Category: telemetry.CategoryError,
			Message: "connect provider on invalid state"})
		return
	}

	cctx, cancel := withTimeout(ctx, DefaultCommandTimeout)
	defer cancel()
	resp, err := rec.commands.Execute(cctx, CommandData{Kind: ConnectAsProvider, ProviderCap: target})
	if err != nil || resp.Err != nil {
		e.sink.Log(telemetry.Event{Component: "power/policy", Category: telemetry.CategoryError,
			Message: "connect provider failed", Err: firstErr(err, resp.Err).Error()})
		return
	}
	rec.mu.Lock()
	rec.state = DeviceState{Kind: ConnectedProvider, ProviderCap: &target}
	rec.mu.Unlock()

	e.mu.Lock()
	e.connectedProviders[requester] = struct{}{}
	e.mu.Unlock()
	e.commsNotify(ctx, CommsData{Kind: ProviderConnected, Device: requester, ProviderCap: target})
}

func (e *Engine) removeConnectedProvider(id DeviceID) {
	e.mu.Lock()
	_, present := e.connectedProviders[id]
	delete(e.connectedProviders, id)
	e.mu.Unlock()
	if present {
		e.commsNotify(context.Background(), CommsData{Kind: ProviderDisconnected, Device: id})
	}
}

// commsNotify broadcasts data and, matching the reference implementation's
// dual-delivery behaviour, also sends it directly to the battery endpoint
// (best-effort: absence of a battery endpoint is not an error here).
func (e *Engine) commsNotify(ctx context.Context, data CommsData) {
	if e.cm == nil {
		return
	}
	e.cm.Broadcast(e.self, CommsMessage{Data: data})
	_ = e.cm.Send(ctx, e.self, comms.Internal(comms.KindBattery), CommsMessage{Data: data})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	if b != nil {
		return b
	}
	return errcode.New("policy", errcode.Error)
}
