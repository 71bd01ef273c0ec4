package depositmonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/vault"
)

type fakeRPC struct {
	mu         sync.Mutex
	confirmed  map[string]bool
	balances   map[string]uint64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{confirmed: map[string]bool{}, balances: map[string]uint64{}}
}

func (f *fakeRPC) RecentBlockhash(ctx context.Context) (solana.Hash, error) { return solana.Hash{}, nil }
func (f *fakeRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, nil
}
func (f *fakeRPC) ConfirmTransaction(ctx context.Context, sig solana.Signature) error { return nil }
func (f *fakeRPC) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[pubkey.String()], nil
}
func (f *fakeRPC) GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed[sig.String()], nil
}
func (f *fakeRPC) RentExemptMinimum(ctx context.Context, dataLen uint64) (uint64, error) {
	return 890_880, nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	pending []*models.Swap
	wallets map[string]*models.IntermediateWallet
	transitions []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{wallets: map[string]*models.IntermediateWallet{}}
}

func (f *fakeRegistry) ListPendingSwaps(ctx context.Context, limit int) ([]*models.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Swap
	for _, s := range f.pending {
		if s.Status == models.StatusPending {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRegistry) addPending(swap *models.Swap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, swap)
}

func (f *fakeRegistry) swapStatus(transactionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.pending {
		if s.TransactionID == transactionID {
			return s.Status
		}
	}
	return ""
}

func (f *fakeRegistry) GetWallet(ctx context.Context, walletID string) (*models.IntermediateWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "no wallet")
	}
	cp := *w
	return &cp, nil
}

func (f *fakeRegistry) TransitionStatus(ctx context.Context, transactionID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.pending {
		if s.TransactionID == transactionID && s.Status == from {
			s.Status = to
			f.transitions = append(f.transitions, transactionID)
			return nil
		}
	}
	return apperrors.New(apperrors.KindStatusConflict, "no matching row")
}

func (f *fakeRegistry) CreateWallet(ctx context.Context, w *models.IntermediateWallet) error { return nil }
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
func (f *fakeRegistry) AppendStep(ctx context.Context, step *models.SwapStep) error { return nil }
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
func (f *fakeRegistry) IncrementDepositCounter(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeRegistry) CurrentDepositCount(ctx context.Context) (uint64, error)     { return 0, nil }
func (f *fakeRegistry) OpenRecoveryRecord(ctx context.Context, transactionID string, depositCountAtCreate uint64, recoveryKeyHash string) error {
	return nil
}
func (f *fakeRegistry) GetRecoveryRecord(ctx context.Context, transactionID string) (*models.RecoveryRecord, error) {
	return nil, nil
}
func (f *fakeRegistry) MarkRecoveryAvailable(ctx context.Context, transactionID string) error {
	return nil
}
func (f *fakeRegistry) RunMigrations() error { return nil }

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *fakeRunner) Run(ctx context.Context, swap *models.Swap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, swap.TransactionID)
}

func TestEvaluateAdmitsWhenDepositConfirmedAndFunded(t *testing.T) {
	reg := newFakeRegistry()
	rpcClient := newFakeRPC()
	clk := clock.NewMock()

	kp := solana.NewWallet()
	reg.wallets["w1"] = &models.IntermediateWallet{WalletID: "w1", PublicKey: kp.PublicKey().String(), Active: true}
	rpcClient.balances[kp.PublicKey().String()] = 10_000_000_000

	sourceKp := solana.NewWallet()
	sig := solana.SignatureFromBytes(make([]byte, 64))
	_ = sourceKp
	rpcClient.confirmed[sig.String()] = true

	swap := &models.Swap{
		TransactionID:        "tx1",
		IntermediateWalletID: "w1",
		AmountLamports:       1_000_000_000,
		SourceSig:            sig.String(),
		Status:               models.StatusPending,
	}
	reg.pending = append(reg.pending, swap)

	v, err := vault.New(reg, rpcClient, clk, zap.NewNop(), testMasterKey())
	require.NoError(t, err)
	runner := &fakeRunner{}

	mon := New(reg, rpcClient, v, runner, clk, zap.NewNop(), time.Second, 5)
	mon.evaluate(context.Background(), swap)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"tx1"}, runner.ran)
	assert.Equal(t, models.StatusProcessing, swap.Status)
}

func TestEvaluateSkipsWhenSourceTxUnconfirmed(t *testing.T) {
	reg := newFakeRegistry()
	rpcClient := newFakeRPC()
	clk := clock.NewMock()

	kp := solana.NewWallet()
	reg.wallets["w2"] = &models.IntermediateWallet{WalletID: "w2", PublicKey: kp.PublicKey().String(), Active: true}

	sig := solana.SignatureFromBytes(make([]byte, 64))
	swap := &models.Swap{
		TransactionID:        "tx2",
		IntermediateWalletID: "w2",
		AmountLamports:       1_000_000_000,
		SourceSig:            sig.String(),
		Status:               models.StatusPending,
	}
	reg.pending = append(reg.pending, swap)

	v, err := vault.New(reg, rpcClient, clk, zap.NewNop(), testMasterKey())
	require.NoError(t, err)
	runner := &fakeRunner{}

	mon := New(reg, rpcClient, v, runner, clk, zap.NewNop(), time.Second, 5)
	mon.evaluate(context.Background(), swap)

	assert.Empty(t, runner.ran)
	assert.Equal(t, models.StatusPending, swap.Status)
}

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// blockingRunner holds every admitted swap until release is closed, standing
// in for a coordinator mid-pipeline.
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, swap *models.Swap) {
	r.mu.Lock()
	r.started = append(r.started, swap.TransactionID)
	r.mu.Unlock()
	<-r.release
}

func (r *blockingRunner) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// readySwap registers a wallet and a confirmed, funded pending swap.
func readySwap(reg *fakeRegistry, rpcClient *fakeRPC, transactionID, walletID string, sig solana.Signature) *models.Swap {
	kp := solana.NewWallet()
	reg.mu.Lock()
	reg.wallets[walletID] = &models.IntermediateWallet{WalletID: walletID, PublicKey: kp.PublicKey().String(), Active: true}
	reg.mu.Unlock()
	rpcClient.mu.Lock()
	rpcClient.balances[kp.PublicKey().String()] = 10_000_000_000
	rpcClient.confirmed[sig.String()] = true
	rpcClient.mu.Unlock()
	return &models.Swap{
		TransactionID:        transactionID,
		IntermediateWalletID: walletID,
		AmountLamports:       1_000_000_000,
		SourceSig:            sig.String(),
		Status:               models.StatusPending,
	}
}

func TestTickAdmitsNewSwapsWhileOthersAreInFlight(t *testing.T) {
	reg := newFakeRegistry()
	rpcClient := newFakeRPC()
	clk := clock.NewMock()
	v, err := vault.New(reg, rpcClient, clk, zap.NewNop(), testMasterKey())
	require.NoError(t, err)
	runner := newBlockingRunner()
	mon := New(reg, rpcClient, v, runner, clk, zap.NewNop(), time.Second, 2)

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(2)

	reg.addPending(readySwap(reg, rpcClient, "tx-a", "wa", solana.Signature{1}))
	mon.tick(gctx, g)
	require.Eventually(t, func() bool { return runner.startedCount() == 1 }, time.Second, 5*time.Millisecond)

	// The first swap is still mid-pipeline; the next tick must admit new
	// work into the free slot rather than waiting for it.
	reg.addPending(readySwap(reg, rpcClient, "tx-b", "wb", solana.Signature{2}))
	mon.tick(gctx, g)
	require.Eventually(t, func() bool { return runner.startedCount() == 2 }, time.Second, 5*time.Millisecond)

	close(runner.release)
	require.NoError(t, g.Wait())
}

func TestTickLeavesOverflowSwapsPendingUntilSlotFrees(t *testing.T) {
	reg := newFakeRegistry()
	rpcClient := newFakeRPC()
	clk := clock.NewMock()
	v, err := vault.New(reg, rpcClient, clk, zap.NewNop(), testMasterKey())
	require.NoError(t, err)
	runner := newBlockingRunner()
	mon := New(reg, rpcClient, v, runner, clk, zap.NewNop(), time.Second, 1)

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(1)

	reg.addPending(readySwap(reg, rpcClient, "tx-c", "wc", solana.Signature{3}))
	reg.addPending(readySwap(reg, rpcClient, "tx-d", "wd", solana.Signature{4}))

	mon.tick(gctx, g)
	require.Eventually(t, func() bool { return runner.startedCount() == 1 }, time.Second, 5*time.Millisecond)

	// The single slot is occupied: the second swap stays pending.
	mon.tick(gctx, g)
	assert.Equal(t, 1, runner.startedCount())
	assert.Equal(t, models.StatusPending, reg.swapStatus("tx-d"))

	// Once the slot frees, a later tick picks it up.
	close(runner.release)
	require.Eventually(t, func() bool {
		mon.tick(gctx, g)
		return runner.startedCount() == 2
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, g.Wait())
}
