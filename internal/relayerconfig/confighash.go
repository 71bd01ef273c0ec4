package relayerconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalConstants is the field set hashed for ConfigHash. Field order is
// fixed by the struct definition and json.Marshal's struct-field ordering, so
// the hash is a pure function of the constants above and changes iff any of
// them changes.
type canonicalConstants struct {
	RelayerFeePct            float64 `json:"relayer_fee_pct"`
	DepositFeePct            float64 `json:"deposit_fee_pct"`
	MinSwapLamports          uint64  `json:"min_swap_lamports"`
	MaxSwapLamports          uint64  `json:"max_swap_lamports"`
	MaxNotes                 int     `json:"max_notes"`
	DefaultNotes              int     `json:"default_notes"`
	MinNotes                  int     `json:"min_notes"`
	MixingWindowSeconds       float64 `json:"mixing_window_seconds"`
	MinSplitLamports          uint64  `json:"min_split_lamports"`
	ObfuscationRangeLamports  uint64  `json:"obfuscation_range_lamports"`
	RecoveryThreshold         int     `json:"recovery_threshold"`
	RecoveryTimeoutSeconds    float64 `json:"recovery_timeout_seconds"`
	FeeReserveLamports        uint64  `json:"fee_reserve_lamports"`
}

// ConfigHash returns the hex-encoded SHA-256 of the canonical JSON encoding
// of the immutable constants.
func ConfigHash() string {
	cc := canonicalConstants{
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
	return hashOf(cc)
}

func hashOf(cc canonicalConstants) string {
	b, err := json.Marshal(cc)
	if err != nil {
		// Marshaling a literal struct of primitives cannot fail.
		panic("relayerconfig: marshal constants: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
