package policy

import "time"

// Config tunes the arbitration thresholds and default capabilities the
// engine falls back to. DefaultConfig reproduces the reference
// implementation's defaults exactly.
type Config struct {
	// LimitedPowerThresholdMw is the combined provider capability above
	// which the engine moves to the Limited power state.
	LimitedPowerThresholdMw uint32
	// ProviderUnlimited is offered to a requester when the engine is in
	// the Unlimited power state (capped to the requested capability).
	ProviderUnlimited PowerCapability
	// ProviderLimited is offered to every provider once the engine is in
	// the Limited power state.
	ProviderLimited PowerCapability
	// MinConsumerThresholdMw, if set, prevents arbitration from selecting
	// a consumer below this capability.
	MinConsumerThresholdMw *uint32
}

// DefaultConfig matches power-policy-service's Default impl exactly.
var DefaultConfig = Config{
	LimitedPowerThresholdMw: 15000,
	ProviderUnlimited:       PowerCapability{VoltageMv: 5000, CurrentMa: 3000},
	ProviderLimited:         PowerCapability{VoltageMv: 5000, CurrentMa: 1500},
	MinConsumerThresholdMw:  nil,
}

// DefaultCommandTimeout bounds how long the engine waits for a device to
// answer a policy->device command before giving up with errcode.Timeout.
const DefaultCommandTimeout = 5 * time.Second
