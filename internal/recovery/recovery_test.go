package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/relayerconfig"
)

// fakeRegistry implements only the subset of registry.Registry the Ledger
// uses, backed by plain in-memory maps.
type fakeRegistry struct {
	counter  uint64
	records  map[string]*models.RecoveryRecord
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: map[string]*models.RecoveryRecord{}}
}

func (f *fakeRegistry) IncrementDepositCounter(ctx context.Context) (uint64, error) {
	f.counter++
	return f.counter, nil
}

func (f *fakeRegistry) CurrentDepositCount(ctx context.Context) (uint64, error) {
	return f.counter, nil
}

func (f *fakeRegistry) OpenRecoveryRecord(ctx context.Context, transactionID string, depositCountAtCreate uint64, recoveryKeyHash string) error {
	if _, ok := f.records[transactionID]; ok {
		return nil
	}
	f.records[transactionID] = &models.RecoveryRecord{
		TransactionID:        transactionID,
		DepositCountAtCreate: depositCountAtCreate,
		RecoveryKeyHash:      recoveryKeyHash,
	}
	return nil
}

func (f *fakeRegistry) GetRecoveryRecord(ctx context.Context, transactionID string) (*models.RecoveryRecord, error) {
	rec, ok := f.records[transactionID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "no such recovery record")
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRegistry) MarkRecoveryAvailable(ctx context.Context, transactionID string) error {
	if rec, ok := f.records[transactionID]; ok {
		rec.Available = true
	}
	return nil
}

// The remaining registry.Registry methods are unused by Ledger; stub them so
// *fakeRegistry satisfies the interface.
func (f *fakeRegistry) CreateWallet(ctx context.Context, wallet *models.IntermediateWallet) error {
	return nil
}
func (f *fakeRegistry) GetWallet(ctx context.Context, walletID string) (*models.IntermediateWallet, error) {
	return nil, nil
}
func (f *fakeRegistry) MarkWalletUsed(ctx context.Context, walletID string, usedAt time.Time) error {
	return nil
}
func (f *fakeRegistry) CountActiveWallets(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeRegistry) SetObservedBalance(ctx context.Context, walletID string, lamports uint64) error {
	return nil
}
func (f *fakeRegistry) CreateSwap(ctx context.Context, swap *models.Swap) error { return nil }
func (f *fakeRegistry) GetSwap(ctx context.Context, transactionID string) (*models.Swap, error) {
	return nil, nil
}
func (f *fakeRegistry) ListPendingSwaps(ctx context.Context, limit int) ([]*models.Swap, error) {
	return nil, nil
}
func (f *fakeRegistry) AppendStep(ctx context.Context, step *models.SwapStep) error { return nil }
func (f *fakeRegistry) TransitionStatus(ctx context.Context, transactionID, from, to string) error {
	return nil
}
func (f *fakeRegistry) SetError(ctx context.Context, transactionID, message string) error { return nil }
func (f *fakeRegistry) SetFinalSig(ctx context.Context, transactionID, sig string, completedAt time.Time) error {
	return nil
}
func (f *fakeRegistry) UpsertWindow(ctx context.Context, windowID string, start, end time.Time, amountLamports uint64) (*models.MixingWindow, error) {
	return nil, nil
}
func (f *fakeRegistry) StoreMemo(ctx context.Context, memo *models.EncryptedMemo) error { return nil }
func (f *fakeRegistry) GetMemo(ctx context.Context, transactionID string) (*models.EncryptedMemo, error) {
	return nil, nil
}
func (f *fakeRegistry) RunMigrations() error { return nil }

func TestAvailabilityByThreshold(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	require.NoError(t, ledger.Open(ctx, "swap-1", 0, "correct-key"))

	for i := 0; i < relayerconfig.RecoveryThreshold-1; i++ {
		_, err := ledger.Increment(ctx)
		require.NoError(t, err)
	}

	avail, err := ledger.Availability(ctx, "swap-1", clk.Now(), models.StatusPending)
	require.NoError(t, err)
	assert.False(t, avail.Available)

	_, err = ledger.Increment(ctx)
	require.NoError(t, err)

	avail, err = ledger.Availability(ctx, "swap-1", clk.Now(), models.StatusPending)
	require.NoError(t, err)
	assert.True(t, avail.Available)
	assert.Equal(t, ReasonThreshold, avail.Reason)
}

func TestAvailabilityByTimeout(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	created := clk.Now()
	require.NoError(t, ledger.Open(ctx, "swap-2", 0, "correct-key"))

	avail, err := ledger.Availability(ctx, "swap-2", created, models.StatusPending)
	require.NoError(t, err)
	assert.False(t, avail.Available)

	clk.Add(relayerconfig.RecoveryTimeout + time.Second)

	avail, err = ledger.Availability(ctx, "swap-2", created, models.StatusPending)
	require.NoError(t, err)
	assert.True(t, avail.Available)
	assert.Equal(t, ReasonTimeout, avail.Reason)
}

func TestAvailabilityIsMonotonic(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	created := clk.Now()
	require.NoError(t, ledger.Open(ctx, "swap-3", 0, "k"))
	clk.Add(relayerconfig.RecoveryTimeout + time.Second)

	first, err := ledger.Availability(ctx, "swap-3", created, models.StatusPending)
	require.NoError(t, err)
	assert.True(t, first.Available)

	second, err := ledger.Availability(ctx, "swap-3", created, models.StatusPending)
	require.NoError(t, err)
	assert.True(t, second.Available)
}

func TestAuthorizeRejectsWrongKey(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	require.NoError(t, ledger.Open(ctx, "swap-4", 0, "correct-key"))
	clk.Add(relayerconfig.RecoveryTimeout + time.Second)
	_, err := ledger.Availability(ctx, "swap-4", clk.Now().Add(-relayerconfig.RecoveryTimeout-time.Second), models.StatusPending)
	require.NoError(t, err)

	err = ledger.Authorize(ctx, "swap-4", "wrong-key")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidRecovery, kind)
}

func TestAuthorizeRejectsWhenUnavailable(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	require.NoError(t, ledger.Open(ctx, "swap-5", 0, "correct-key"))

	err := ledger.Authorize(ctx, "swap-5", "correct-key")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindRecoveryUnavail, kind)
}

func TestAvailabilityTimeoutOnlyAppliesWhilePending(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	created := clk.Now()
	require.NoError(t, ledger.Open(ctx, "swap-6", 0, "correct-key"))
	clk.Add(relayerconfig.RecoveryTimeout + time.Second)

	avail, err := ledger.Availability(ctx, "swap-6", created, models.StatusProcessing)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Equal(t, ReasonNone, avail.Reason)

	// The permanent flag must not have been flipped by the evaluation.
	rec, err := reg.GetRecoveryRecord(ctx, "swap-6")
	require.NoError(t, err)
	assert.False(t, rec.Available)
}

func TestAvailabilityStoredFlagSurvivesStatusChange(t *testing.T) {
	reg := newFakeRegistry()
	clk := clock.NewMock()
	ledger := New(reg, clk)
	ctx := context.Background()

	created := clk.Now()
	require.NoError(t, ledger.Open(ctx, "swap-7", 0, "correct-key"))
	clk.Add(relayerconfig.RecoveryTimeout + time.Second)

	first, err := ledger.Availability(ctx, "swap-7", created, models.StatusPending)
	require.NoError(t, err)
	require.True(t, first.Available)

	// Once reported available, later calls keep reporting it even after the
	// swap leaves pending.
	second, err := ledger.Availability(ctx, "swap-7", created, models.StatusProcessing)
	require.NoError(t, err)
	assert.True(t, second.Available)
}
