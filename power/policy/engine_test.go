package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ecfabric/comms"
	"ecfabric/power/flags"
	"ecfabric/power/policy"
)

// fakeDevice drives a DeviceHandle's command channel the way a real device
// driver would: a goroutine loop that replies Complete to every command.
type fakeDevice struct {
	t    *testing.T
	h    *policy.DeviceHandle
	done chan struct{}

	received chan policy.CommandData
}

func newFakeDevice(t *testing.T, h *policy.DeviceHandle) *fakeDevice {
	d := &fakeDevice{t: t, h: h, done: make(chan struct{}), received: make(chan policy.CommandData, 8)}
	go d.run()
	return d
}

func (d *fakeDevice) run() {
	ctx := context.Background()
	for {
		req, err := d.h.Commands.Receive(ctx)
		if err != nil {
			return
		}
		select {
		case d.received <- req.Command:
		default:
		}
		req.Respond(policy.Response{})
		select {
		case <-d.done:
			return
		default:
		}
	}
}

func (d *fakeDevice) stop() { close(d.done) }

func waitCommand(t *testing.T, d *fakeDevice, kind policy.CommandKind) policy.CommandData {
	t.Helper()
	select {
	case cmd := <-d.received:
		require.Equal(t, kind, cmd.Kind)
		return cmd
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for command kind %v", kind)
		return policy.CommandData{}
	}
}

func newTestEngine(t *testing.T) *policy.Engine {
	e := policy.NewEngine(policy.DefaultConfig, nil, comms.EndpointID{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = e.Run(ctx) }()
	return e
}

func TestUpdateCurrentConsumerPicksHighestCapability(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	hLow, err := e.RegisterDevice(1)
	require.NoError(t, err)
	hHigh, err := e.RegisterDevice(2)
	require.NoError(t, err)

	devLow := newFakeDevice(t, hLow)
	defer devLow.stop()
	devHigh := newFakeDevice(t, hHigh)
	defer devHigh.stop()

	require.NoError(t, hLow.NotifyAttached(ctx))
	require.NoError(t, hHigh.NotifyAttached(ctx))

	require.NoError(t, hLow.NotifyConsumerPowerCapability(ctx, &policy.ConsumerCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 1000},
	}))
	waitCommand(t, devLow, policy.ConnectAsConsumer)

	require.NoError(t, hHigh.NotifyConsumerPowerCapability(ctx, &policy.ConsumerCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 3000},
	}))
	// The higher-capability device should take over as current consumer:
	// low gets disconnected, high gets connected.
	waitCommand(t, devLow, policy.Disconnect)
	waitCommand(t, devHigh, policy.ConnectAsConsumer)
}

func TestUpdateCurrentConsumerRespectsMinThreshold(t *testing.T) {
	threshold := uint32(4000)
	cfg := policy.DefaultConfig
	cfg.MinConsumerThresholdMw = &threshold

	e := policy.NewEngine(cfg, nil, comms.EndpointID{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	h, err := e.RegisterDevice(1)
	require.NoError(t, err)
	dev := newFakeDevice(t, h)
	defer dev.stop()

	require.NoError(t, h.NotifyAttached(ctx))
	require.NoError(t, h.NotifyConsumerPowerCapability(ctx, &policy.ConsumerCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 500}, // 2500mW < 4000mW threshold
	}))

	select {
	case cmd := <-dev.received:
		t.Fatalf("unexpected command below threshold: %v", cmd.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectProviderUnlimitedThenLimited(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	h1, err := e.RegisterDevice(1)
	require.NoError(t, err)
	h2, err := e.RegisterDevice(2)
	require.NoError(t, err)

	d1 := newFakeDevice(t, h1)
	defer d1.stop()
	d2 := newFakeDevice(t, h2)
	defer d2.stop()

	require.NoError(t, h1.NotifyAttached(ctx))
	require.NoError(t, h2.NotifyAttached(ctx))

	require.NoError(t, h1.RequestProviderPowerCapability(ctx, policy.ProviderCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 2000}, // 10000mW, under threshold
	}))
	cmd := waitCommand(t, d1, policy.ConnectAsProvider)
	// Under the unlimited threshold: the requested capability passes through
	// unchanged (it is not yet at or above ProviderUnlimited's ceiling).
	require.Equal(t, policy.PowerCapability{VoltageMv: 5000, CurrentMa: 2000}, cmd.ProviderCap.Capability)

	require.NoError(t, h2.RequestProviderPowerCapability(ctx, policy.ProviderCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 2000}, // combined 20000mW, over threshold
	}))
	cmd2 := waitCommand(t, d2, policy.ConnectAsProvider)
	require.Equal(t, policy.DefaultConfig.ProviderLimited, cmd2.ProviderCap.Capability)
}

func TestUnconstrainedBookkeeping(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	h, err := e.RegisterDevice(1)
	require.NoError(t, err)
	dev := newFakeDevice(t, h)
	defer dev.stop()

	require.NoError(t, h.NotifyAttached(ctx))
	require.NoError(t, h.NotifyConsumerPowerCapability(ctx, &policy.ConsumerCapability{
		Capability: policy.PowerCapability{VoltageMv: 5000, CurrentMa: 500},
		Flags:      flags.ConsumerNone.WithUnconstrainedPower(),
	}))
	waitCommand(t, dev, policy.ConnectAsConsumer)

	require.NoError(t, h.NotifyDetached(ctx))
}

func TestDoubleRegistrationFails(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterDevice(7)
	require.NoError(t, err)
	_, err = e.RegisterDevice(7)
	require.Error(t, err)
}
