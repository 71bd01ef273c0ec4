// Package registry defines the durable, authoritative store of swap
// records, steps, status transitions, mixing window aggregates, and
// encrypted memos. All coordinator writes pass through this interface; the
// coordinator holds no cache of its own.
package registry

import (
	"context"
	"time"

	"github.com/solrelay/mixer/internal/registry/models"
)

// Registry defines the atomic operations the Coordinator, Deposit Monitor,
// and Control Surface use to read and mutate swap state.
type Registry interface {
	CreateWallet(ctx context.Context, wallet *models.IntermediateWallet) error
	GetWallet(ctx context.Context, walletID string) (*models.IntermediateWallet, error)
	// MarkWalletUsed sets active=false and stamps UsedAt, but only while the
	// wallet is still active; a double mark is a no-op, not an error.
	MarkWalletUsed(ctx context.Context, walletID string, usedAt time.Time) error
	SetObservedBalance(ctx context.Context, walletID string, lamports uint64) error
	CountActiveWallets(ctx context.Context) (int64, error)

	CreateSwap(ctx context.Context, swap *models.Swap) error
	GetSwap(ctx context.Context, transactionID string) (*models.Swap, error)
	ListPendingSwaps(ctx context.Context, limit int) ([]*models.Swap, error)

	// AppendStep inserts the next SwapStep for a transaction. The caller is
	// responsible for supplying a monotonically increasing StepIndex.
	AppendStep(ctx context.Context, step *models.SwapStep) error

	// TransitionStatus performs an atomic conditional update
	// (`WHERE status = from`) and returns apperrors.KindStatusConflict if no
	// row matched.
	TransitionStatus(ctx context.Context, transactionID, from, to string) error

	SetError(ctx context.Context, transactionID, message string) error
	SetFinalSig(ctx context.Context, transactionID, sig string, completedAt time.Time) error

	// UpsertWindow atomically creates-or-increments the MixingWindow bucket
	// that now contains amountLamports of new deposit activity, returning
	// the row's state after the increment so callers can read the current
	// co-mingling peer count.
	UpsertWindow(ctx context.Context, windowID string, start, end time.Time, amountLamports uint64) (*models.MixingWindow, error)

	StoreMemo(ctx context.Context, memo *models.EncryptedMemo) error
	GetMemo(ctx context.Context, transactionID string) (*models.EncryptedMemo, error)

	// IncrementDepositCounter atomically advances the singleton "main"
	// DepositCounter row and returns the new total. It must never consume a
	// counter value on insert failure.
	IncrementDepositCounter(ctx context.Context) (uint64, error)
	CurrentDepositCount(ctx context.Context) (uint64, error)

	// OpenRecoveryRecord snapshots the current deposit count into a new
	// RecoveryRecord. Idempotent: a second call for the same transactionID
	// is a no-op rather than an error.
	OpenRecoveryRecord(ctx context.Context, transactionID string, depositCountAtCreate uint64, recoveryKeyHash string) error
	GetRecoveryRecord(ctx context.Context, transactionID string) (*models.RecoveryRecord, error)

	// MarkRecoveryAvailable flips RecoveryRecord.Available to true. It is a
	// monotonic, idempotent write: once true, later calls are no-ops.
	MarkRecoveryAvailable(ctx context.Context, transactionID string) error

	RunMigrations() error
}
