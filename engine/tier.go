package engine

import "github.com/wippyai/engine-bridge/errors"

// Tier is a versioned subset of ABI operations available at run time.
// Tiers are cumulative: a binding at TierPromises also provides TierDispatch
// and TierCore.
type Tier uint8

const (
	// TierUnknown means the tier has not been probed or configured.
	TierUnknown Tier = iota

	// TierCore covers value construction/inspection, property access,
	// function calls, handle-scope marks, and the pending-exception slot.
	TierCore

	// TierDispatch adds thread-safe callbacks for waking the host event
	// loop from background threads. Required for channels.
	TierDispatch

	// TierPromises adds promise/deferred creation and settlement.
	TierPromises

	// TierBigInt adds arbitrary-precision integer values.
	TierBigInt
)

var tierNames = [...]string{"unknown", "core", "dispatch", "promises", "bigint"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if s == name && Tier(i) != TierUnknown {
			return Tier(i), nil
		}
	}
	return TierUnknown, errors.InvalidInput(errors.PhaseConfig, "unknown capability tier "+s)
}

// TierOf probes the capabilities a binding actually implements and returns
// the highest tier for which every lower capability is also present.
func TierOf(b Binding) Tier {
	if b == nil {
		return TierUnknown
	}
	tier := TierCore
	if _, ok := b.(Dispatcher); !ok {
		return tier
	}
	tier = TierDispatch
	if _, ok := b.(PromiseBinding); !ok {
		return tier
	}
	tier = TierPromises
	if _, ok := b.(BigIntBinding); !ok {
		return tier
	}
	return TierBigInt
}

// Require fails fast with an unsupported_capability error if the binding
// does not provide the needed tier.
func Require(b Binding, need Tier, what string) error {
	have := TierOf(b)
	if have < need {
		return errors.Unsupported(what, have.String(), need.String())
	}
	return nil
}
