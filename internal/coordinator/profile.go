package coordinator

import (
	"time"

	"github.com/solrelay/mixer/internal/relayerconfig"
	"github.com/solrelay/mixer/internal/rng"
)

// StrategyProfile parameterizes the Coordinator's state machine so the two
// privacy tiers (a lighter multi-hop mode and a fuller mixing mode) share
// one Coordinator configured differently rather than two parallel
// implementations.
type StrategyProfile struct {
	Name string

	// SplitPlanFn computes per-note amounts for a given total.
	SplitPlanFn func(source rng.Source, amountLamports uint64) []uint64

	// WithdrawEnabled gates step 5 (deposit -> withdraw wallet hop with
	// amount obfuscation). When false, notes merge directly from their
	// deposit wallets.
	WithdrawEnabled bool

	// HopRange bounds the uniform draw for H, the number of post-merge hops.
	HopRangeMin, HopRangeMax int

	// ObfuscationRange is R in v_i' = max(floor, v_i + uniform(-R, R)).
	ObfuscationRangeLamports uint64
}

// BasicHopProfile skips the withdraw-wallet hop and performs a single
// post-merge hop: a lighter-weight mode for smaller amounts or
// latency-sensitive callers.
func BasicHopProfile() StrategyProfile {
	return StrategyProfile{
		Name:                     "basic-hop",
		SplitPlanFn:              SplitPlan,
		WithdrawEnabled:          false,
		HopRangeMin:              1,
		HopRangeMax:              1,
		ObfuscationRangeLamports: relayerconfig.ObfuscationRangeLamports,
	}
}

// EnhancedMixProfile is the full mixing pipeline: deposit, withdraw with
// obfuscation, merge, then one or two further hops.
func EnhancedMixProfile() StrategyProfile {
	return StrategyProfile{
		Name:                     "enhanced-mix",
		SplitPlanFn:              SplitPlan,
		WithdrawEnabled:          true,
		HopRangeMin:              1,
		HopRangeMax:              2,
		ObfuscationRangeLamports: relayerconfig.ObfuscationRangeLamports,
	}
}

// hopCount draws H uniformly from [HopRangeMin, HopRangeMax].
func (p StrategyProfile) hopCount(source rng.Source) int {
	if p.HopRangeMin >= p.HopRangeMax {
		return p.HopRangeMin
	}
	span := p.HopRangeMax - p.HopRangeMin + 1
	return p.HopRangeMin + source.IntN(span)
}

func jitter(source rng.Source, lo, hi time.Duration) time.Duration {
	return time.Duration(source.Uniform(float64(lo), float64(hi)))
}
