package coordinator

import (
	"github.com/solrelay/mixer/internal/relayerconfig"
	"github.com/solrelay/mixer/internal/rng"
)

// noteCount picks N by amount band, clamped to [MinNotes, MaxNotes].
func noteCount(amountLamports uint64) int {
	sol := relayerconfig.LamportsToSOL(amountLamports)

	var n int
	switch {
	case sol > 1.0:
		n = int(sol / 0.2)
		if n > relayerconfig.MaxNotes {
			n = relayerconfig.MaxNotes
		}
	case sol > 0.5:
		n = 6
	case sol > 0.1:
		n = 4
	default:
		n = relayerconfig.MinNotes
	}

	if n < relayerconfig.MinNotes {
		n = relayerconfig.MinNotes
	}
	if n > relayerconfig.MaxNotes {
		n = relayerconfig.MaxNotes
	}
	return n
}

// SplitPlan computes the per-note amounts for a swap. If the amount is small
// enough, a single note carries the full value; otherwise it is split into
// noteCount(amount) notes with randomized ratios, then shuffled so
// ordering carries no signal about which note was built first.
func SplitPlan(source rng.Source, amountLamports uint64) []uint64 {
	if amountLamports <= 2*relayerconfig.MinSplitLamports {
		return []uint64{amountLamports}
	}

	n := noteCount(amountLamports)
	values := make([]uint64, n)
	remaining := amountLamports

	for i := 0; i < n-1; i++ {
		p := source.Uniform(0.15, 0.35)
		v := uint64(float64(remaining) * p)
		if v < relayerconfig.MinSplitLamports {
			v = relayerconfig.MinSplitLamports
		}
		if v > remaining {
			v = remaining
		}
		values[i] = v
		remaining -= v
	}
	values[n-1] = remaining

	source.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})

	return values
}
