package relayerconfig

import "testing"

func TestConfigHashIsPureAndStable(t *testing.T) {
	h1 := ConfigHash()
	h2 := ConfigHash()
	if h1 != h2 {
		t.Fatalf("ConfigHash is not a pure function: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 64-char hex SHA-256, got %d chars", len(h1))
	}
}

func TestConfigHashReflectsEveryField(t *testing.T) {
	base := canonicalConstants{
		RelayerFeePct:            RelayerFeePct,
		DepositFeePct:            DepositFeePct,
		MinSwapLamports:          MinSwapLamports,
		MaxSwapLamports:          MaxSwapLamports,
		MaxNotes:                 MaxNotes,
		DefaultNotes:             DefaultNotes,
		MinNotes:                 MinNotes,
		MixingWindowSeconds:      MixingWindow.Seconds(),
		MinSplitLamports:         MinSplitLamports,
		ObfuscationRangeLamports: ObfuscationRangeLamports,
		RecoveryThreshold:        RecoveryThreshold,
		RecoveryTimeoutSeconds:   RecoveryTimeout.Seconds(),
		FeeReserveLamports:       FeeReserveLamports,
	}
	want := ConfigHash()

	mutated := base
	mutated.RecoveryThreshold = base.RecoveryThreshold + 1
	if hashOf(mutated) == want {
		t.Fatalf("changing RecoveryThreshold did not change the hash")
	}

	mutated = base
	mutated.FeeReserveLamports = base.FeeReserveLamports + 1
	if hashOf(mutated) == want {
		t.Fatalf("changing FeeReserveLamports did not change the hash")
	}
}
