// Package recovery implements the recovery ledger: the monotonic global
// deposit counter and the per-swap threshold/timeout availability rules
// that gate emergency direct withdrawal.
package recovery

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/registry"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/relayerconfig"
)

// Reason identifies which of the two disjoint availability clauses fired.
type Reason string

const (
	ReasonNone    Reason = "none"
	ReasonThreshold Reason = "threshold"
	ReasonTimeout   Reason = "timeout"
)

// Availability is the result of evaluating a swap's recovery eligibility.
type Availability struct {
	Available bool
	Reason    Reason
	Details   string
}

// Ledger is the Recovery Ledger. It holds no in-memory state of its own;
// every operation reads or writes through Registry.
type Ledger struct {
	registry registry.Registry
	clock    clock.Clock
}

func New(reg registry.Registry, clk clock.Clock) *Ledger {
	return &Ledger{registry: reg, clock: clk}
}

// HashKey returns the hex-encoded SHA-256 digest stored alongside a
// RecoveryRecord. The raw key is never persisted.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Increment advances the global DepositCounter by one and returns the new
// total. Called once per successful initiate, never retried on failure, so a
// failed insert cannot consume a counter value.
func (l *Ledger) Increment(ctx context.Context) (uint64, error) {
	return l.registry.IncrementDepositCounter(ctx)
}

// Open snapshots the counter value at swap-creation time into a new
// RecoveryRecord. Idempotent: re-opening the same transactionID is a no-op.
func (l *Ledger) Open(ctx context.Context, transactionID string, depositCountAtCreate uint64, recoveryKey string) error {
	return l.registry.OpenRecoveryRecord(ctx, transactionID, depositCountAtCreate, HashKey(recoveryKey))
}

// Availability evaluates two disjoint clauses: the counter has advanced by
// at least RecoveryThreshold since the swap was created, or the swap's age
// has reached RecoveryTimeout. Either is sufficient. Once true,
// MarkRecoveryAvailable makes the result permanent; availability never
// reverts. Both clauses apply only while the swap is still pending: once
// it is admitted into processing the funds are moving and a swap never
// evaluated available must not become so.
func (l *Ledger) Availability(ctx context.Context, transactionID string, createdAt time.Time, status string) (Availability, error) {
	rec, err := l.registry.GetRecoveryRecord(ctx, transactionID)
	if err != nil {
		return Availability{}, err
	}
	if rec.Available {
		// The record does not store which clause flipped it. The counter only
		// grows, so if the threshold clause does not hold now, the timeout did.
		current, err := l.registry.CurrentDepositCount(ctx)
		if err != nil {
			return Availability{}, err
		}
		reason := ReasonTimeout
		if current >= rec.DepositCountAtCreate+relayerconfig.RecoveryThreshold {
			reason = ReasonThreshold
		}
		return Availability{Available: true, Reason: reason, Details: "previously evaluated available"}, nil
	}
	if status != models.StatusPending {
		return Availability{
			Available: false,
			Reason:    ReasonNone,
			Details:   fmt.Sprintf("swap is %s, not pending", status),
		}, nil
	}

	current, err := l.registry.CurrentDepositCount(ctx)
	if err != nil {
		return Availability{}, err
	}

	if current >= rec.DepositCountAtCreate+relayerconfig.RecoveryThreshold {
		if err := l.registry.MarkRecoveryAvailable(ctx, transactionID); err != nil {
			return Availability{}, err
		}
		return Availability{
			Available: true,
			Reason:    ReasonThreshold,
			Details:   fmt.Sprintf("%d deposits since creation (threshold %d)", current-rec.DepositCountAtCreate, relayerconfig.RecoveryThreshold),
		}, nil
	}

	age := l.clock.Now().Sub(createdAt)
	if age >= relayerconfig.RecoveryTimeout {
		if err := l.registry.MarkRecoveryAvailable(ctx, transactionID); err != nil {
			return Availability{}, err
		}
		return Availability{
			Available: true,
			Reason:    ReasonTimeout,
			Details:   fmt.Sprintf("swap age %s >= timeout %s", age, relayerconfig.RecoveryTimeout),
		}, nil
	}

	return Availability{
		Available: false,
		Reason:    ReasonNone,
		Details:   fmt.Sprintf("%d/%d deposits, age %s/%s", current-rec.DepositCountAtCreate, relayerconfig.RecoveryThreshold, age, relayerconfig.RecoveryTimeout),
	}, nil
}

// Authorize verifies suppliedKey against the stored hash in constant time
// and, only if the record is currently available, authorizes one direct
// withdrawal. It does not itself move funds; the caller (Control Surface)
// performs the transfer once Authorize returns nil.
func (l *Ledger) Authorize(ctx context.Context, transactionID, suppliedKey string) error {
	rec, err := l.registry.GetRecoveryRecord(ctx, transactionID)
	if err != nil {
		return err
	}

	suppliedHash := HashKey(suppliedKey)
	if subtle.ConstantTimeCompare([]byte(suppliedHash), []byte(rec.RecoveryKeyHash)) != 1 {
		return apperrors.New(apperrors.KindInvalidRecovery, "recovery key does not match")
	}

	if !rec.Available {
		return apperrors.New(apperrors.KindRecoveryUnavail, "neither threshold nor timeout satisfied")
	}

	return nil
}
