// Package depositmonitor polls for pending swaps and admits them into the
// coordinator once their source transaction is confirmed and the
// intermediate wallet holds enough balance.
package depositmonitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/registry"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/solrpc"
	"github.com/solrelay/mixer/internal/vault"
)

// Runner advances an admitted swap; the Coordinator satisfies this.
type Runner interface {
	Run(ctx context.Context, swap *models.Swap)
}

// Monitor is the Deposit Monitor. It holds no durable state; every
// evaluation reads fresh from Registry and the RPC client.
type Monitor struct {
	registry   registry.Registry
	rpc        solrpc.Client
	vault      *vault.Vault
	coordinator Runner
	clock      clock.Clock
	logger     *zap.Logger

	pollInterval time.Duration
	batchSize    int
}

// New builds a Monitor. pollInterval defaults to 10s and batchSize to 10
// when zero.
func New(reg registry.Registry, rpcClient solrpc.Client, v *vault.Vault, coordinator Runner, clk clock.Clock, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Monitor{
		registry:    reg,
		rpc:         rpcClient,
		vault:       v,
		coordinator: coordinator,
		clock:       clk,
		logger:      logger.Named("depositmonitor"),
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run blocks, ticking every pollInterval until ctx is cancelled. Admission
// slots are bounded by batchSize and span ticks: an admitted swap holds its
// slot for its entire pipeline, and freed slots are refilled on the next
// tick without waiting for the rest of the in-flight cohort.
func (m *Monitor) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.batchSize)

	ticker := m.clock.Ticker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		case <-ticker.C:
			m.tick(gctx, g)
		}
	}
}

// tick offers up to batchSize oldest pending swaps to the free admission
// slots. Evaluation is read-only and idempotent until the status
// transition, so a swap that finds no free slot, or is not yet ready,
// simply stays pending and is retried on a later tick.
func (m *Monitor) tick(ctx context.Context, g *errgroup.Group) {
	swaps, err := m.registry.ListPendingSwaps(ctx, m.batchSize)
	if err != nil {
		m.logger.Error("list pending swaps failed", zap.Error(err))
		return
	}

	for _, swap := range swaps {
		swap := swap
		if !g.TryGo(func() error {
			m.evaluate(ctx, swap)
			return nil
		}) {
			return
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, swap *models.Swap) {
	sig, err := parseSignature(swap.SourceSig)
	if err != nil {
		m.logger.Warn("unparseable source signature, skipping", zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}

	confirmed, err := m.rpc.GetConfirmedTransaction(ctx, sig)
	if err != nil {
		m.logger.Warn("source tx lookup failed, will retry", zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}
	if !confirmed {
		return
	}

	wallet, err := m.registry.GetWallet(ctx, swap.IntermediateWalletID)
	if err != nil {
		m.logger.Error("intermediate wallet lookup failed", zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}
	pubKey, err := parsePublicKey(wallet.PublicKey)
	if err != nil {
		m.logger.Error("unparseable wallet public key", zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}

	balance, err := m.vault.Balance(ctx, pubKey)
	if err != nil {
		m.logger.Warn("balance lookup failed, will retry", zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}
	// Admission requires only the deposited amount itself; whether the
	// intermediate also carries enough margin to prime fresh wallets is the
	// coordinator's call, which fails the swap with CannotPrime when it
	// does not and no treasury is configured.
	if balance < swap.AmountLamports {
		return
	}

	if err := m.registry.TransitionStatus(ctx, swap.TransactionID, models.StatusPending, models.StatusProcessing); err != nil {
		m.logger.Info("admission race lost, another worker already admitted this swap",
			zap.String("transaction_id", swap.TransactionID), zap.Error(err))
		return
	}

	m.logger.Info("admitting swap", zap.String("transaction_id", swap.TransactionID))
	m.coordinator.Run(ctx, swap)
}
