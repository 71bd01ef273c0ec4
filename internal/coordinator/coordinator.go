// Package coordinator drives admitted swaps through the mixing pipeline:
// a state machine taking each swap through split, deposit, windowing,
// withdraw, merge, hop, and finalize, persisting a step after every
// confirmed transfer so a crash leaves funds recoverable.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/events"
	"github.com/solrelay/mixer/internal/logging"
	"github.com/solrelay/mixer/internal/registry"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/relayerconfig"
	"github.com/solrelay/mixer/internal/rng"
	"github.com/solrelay/mixer/internal/solrpc"
	"github.com/solrelay/mixer/internal/vault"
)

// Coordinator is the Mixing Coordinator.
type Coordinator struct {
	registry registry.Registry
	vault    *vault.Vault
	rpc      solrpc.Client
	rng      rng.Source
	clock    clock.Clock
	logger   *zap.Logger
	bus      *events.Bus
	profile  StrategyProfile

	// feeWallet, when set, receives the relayer fee as a second recipient in
	// the finalize transfer. Absence falls back to a single-recipient
	// transfer of the full callable balance to the destination.
	feeWallet *solana.PublicKey
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

func WithFeeWallet(pubKey solana.PublicKey) Option {
	return func(c *Coordinator) { c.feeWallet = &pubKey }
}

func WithEventBus(bus *events.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

func New(reg registry.Registry, v *vault.Vault, rpcClient solrpc.Client, source rng.Source, clk clock.Clock, logger *zap.Logger, profile StrategyProfile, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: reg,
		vault:    v,
		rpc:      rpcClient,
		rng:      source,
		clock:    clk,
		logger:   logger.Named("coordinator"),
		profile:  profile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is the per-swap execution state: the swap being driven, its logger,
// and the index the next appended step will carry.
type run struct {
	c             *Coordinator
	ctx           context.Context
	swap          *models.Swap
	log           *zap.Logger
	nextStepIndex int
}

// Run advances swap through the full lifecycle. It is invoked once per swap
// by the Deposit Monitor after admission (status already transitioned to
// processing). Any failure writes error_message, sets status failed, and
// stops; there is no automatic retry inside a swap.
func (c *Coordinator) Run(ctx context.Context, swap *models.Swap) {
	r := &run{c: c, ctx: ctx, swap: swap, log: c.logger.With(zap.String("transaction_id", swap.TransactionID))}

	if err := r.execute(); err != nil {
		r.log.Error("swap failed", zap.Error(err))
		if setErr := c.registry.SetError(ctx, swap.TransactionID, err.Error()); setErr != nil {
			r.log.Error("failed to persist error", zap.Error(setErr))
		}
		c.publish(events.SwapFailed, swap.TransactionID, err.Error())
		return
	}

	r.log.Info("swap completed")
}

func (c *Coordinator) publish(kind events.EventType, transactionID, detail string) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.SwapEvent{
		BaseEvent:     events.BaseEvent{EventType: kind, EventTime: c.clock.Now()},
		TransactionID: transactionID,
		Detail:        detail,
	})
}

func (r *run) appendStep(fromAddr, toAddr, txSig string, amount *uint64) error {
	step := &models.SwapStep{
		TransactionID:  r.swap.TransactionID,
		StepIndex:      r.nextStepIndex,
		FromAddr:       fromAddr,
		ToAddr:         toAddr,
		TxSig:          txSig,
		Timestamp:      r.c.clock.Now(),
		AmountLamports: amount,
	}
	r.nextStepIndex++
	return r.c.registry.AppendStep(r.ctx, step)
}

func (r *run) sleep(d time.Duration) {
	r.c.clock.Sleep(d)
}

// blockhash fetches a fresh recent blockhash; every transfer in the
// lifecycle calls this immediately before building its transaction since
// long randomized sleeps separate steps and a stale blockhash would be
// rejected on submission.
func (r *run) blockhash() (solana.Hash, error) {
	return r.c.rpc.RecentBlockhash(r.ctx)
}

// transferFull signs and submits a single-recipient transfer of amount from
// fromWalletID to toPubKey, confirms it, and appends a step.
func (r *run) transferFull(fromWalletID string, toPubKey solana.PublicKey, amount uint64) (string, error) {
	bh, err := r.blockhash()
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindRPC, "fetch blockhash", err)
	}
	signed, err := r.c.vault.SignTransfer(r.ctx, fromWalletID, []vault.Recipient{{PublicKey: toPubKey, Lamports: amount}}, bh)
	if err != nil {
		return "", err
	}
	sig, err := r.c.vault.SubmitAndConfirm(r.ctx, signed)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindRPC, "submit transfer", err)
	}

	fromWallet, err := r.c.registry.GetWallet(r.ctx, fromWalletID)
	if err != nil {
		return "", err
	}
	if err := r.appendStep(fromWallet.PublicKey, toPubKey.String(), sig.String(), &amount); err != nil {
		return "", apperrors.Wrap(apperrors.KindRPC, "append step", err)
	}
	r.log.Debug("transfer confirmed",
		zap.String("from", logging.ShortenAddress(fromWallet.PublicKey)),
		zap.String("to", logging.ShortenAddress(toPubKey.String())),
		zap.String("sig", logging.ShortenSignature(sig.String())),
	)
	return sig.String(), nil
}

// allocateAndPrime allocates a fresh wallet and primes its reserve from
// fundingWalletID, falling back to the optional treasury. A failure here is
// CannotPrime.
func (r *run) allocateAndPrime(fundingWalletID string) (walletID string, pubKey solana.PublicKey, err error) {
	walletID, pubKey, err = r.c.vault.Allocate(r.ctx)
	if err != nil {
		return "", solana.PublicKey{}, err
	}
	bh, err := r.blockhash()
	if err != nil {
		return "", solana.PublicKey{}, apperrors.Wrap(apperrors.KindRPC, "fetch blockhash", err)
	}
	if _, err := r.c.vault.Prime(r.ctx, fundingWalletID, pubKey, bh); err != nil {
		return "", solana.PublicKey{}, err
	}
	return walletID, pubKey, nil
}

func parsePublicKey(s string) (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(s)
}

// execute runs the full note lifecycle, from split plan to finalize.
func (r *run) execute() error {
	c := r.c
	profile := c.profile

	firstIntermediateID := r.swap.IntermediateWalletID
	firstWallet, err := c.registry.GetWallet(r.ctx, firstIntermediateID)
	if err != nil {
		return err
	}
	firstPub, err := parsePublicKey(firstWallet.PublicKey)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "parse intermediate public key", err)
	}

	// The note deposits must deliver the full requested amount, so priming
	// reserves can only come from the margin above it or from the treasury.
	// A deposit with no margin and no treasury fails here, before any
	// transfer, leaving the funds at the first intermediate.
	balance, err := c.vault.Balance(r.ctx, firstPub)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "first intermediate balance lookup", err)
	}
	reserve, err := c.vault.ReserveLamports(r.ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "compute priming reserve", err)
	}
	if balance < r.swap.AmountLamports+reserve && !c.vault.HasTreasury() {
		return apperrors.New(apperrors.KindCannotPrime,
			"first intermediate cannot fund priming reserves and no treasury is configured")
	}

	plan := profile.SplitPlanFn(c.rng, r.swap.AmountLamports)

	// Step 1-4: allocate + prime + deposit each note from the first
	// intermediate, recording a step after every confirmed transfer. Each
	// note deposit also increments the mixing window's aggregates; the
	// window's tx_count later stretches the dwell time in proportion to
	// how many co-mingling peers it accumulated.
	windowTxCount := len(plan)
	depositWallets := make([]string, len(plan))
	depositPubKeys := make([]solana.PublicKey, len(plan))
	for i, amount := range plan {
		walletID, pubKey, err := r.allocateAndPrime(firstIntermediateID)
		if err != nil {
			return err
		}
		depositWallets[i] = walletID
		depositPubKeys[i] = pubKey

		if _, err := r.transferFull(firstIntermediateID, pubKey, amount); err != nil {
			return err
		}

		// The window is picked per deposit, so a note landing after a window
		// has ended opens the next one instead of modifying the old one.
		winStart := windowStart(c.clock.Now())
		win, err := c.registry.UpsertWindow(r.ctx, windowID(winStart), winStart, winStart.Add(relayerconfig.MixingWindow), amount)
		if err != nil {
			r.log.Warn("upsert mixing window failed, continuing", zap.Error(err))
		} else if win != nil {
			windowTxCount = win.TxCount
		}

		if i < len(plan)-1 {
			r.sleep(jitter(c.rng, 2*time.Second, 6*time.Second))
		}
	}

	if err := c.vault.MarkUsed(r.ctx, firstIntermediateID); err != nil {
		r.log.Warn("mark first intermediate used failed", zap.Error(err))
	}

	// Mixing delay: base + jitter, then a further randomized stretch.
	base := 10*time.Second + minDuration(time.Duration(windowTxCount)*2*time.Second, 30*time.Second) + jitter(c.rng, 0, 10*time.Second)
	r.sleep(base)
	r.sleep(jitter(c.rng, base, base+10*time.Second))

	// Step 5: optional withdraw-wallet hop with amount obfuscation.
	currentWallets := depositWallets
	currentPubKeys := depositPubKeys

	if profile.WithdrawEnabled {
		withdrawWallets := make([]string, len(plan))
		withdrawPubKeys := make([]solana.PublicKey, len(plan))
		obfuscated := make([]uint64, len(plan))

		for i, amount := range plan {
			walletID, pubKey, err := r.allocateAndPrime(currentWallets[i])
			if err != nil {
				return err
			}
			withdrawWallets[i] = walletID
			withdrawPubKeys[i] = pubKey

			obfAmount := obfuscate(c.rng, amount, profile.ObfuscationRangeLamports)
			obfuscated[i] = obfAmount

			r.sleep(jitter(c.rng, 5*time.Second, 15*time.Second))

			if _, err := r.transferFull(currentWallets[i], pubKey, obfAmount); err != nil {
				return err
			}
			if err := c.vault.MarkUsed(r.ctx, currentWallets[i]); err != nil {
				r.log.Warn("mark deposit wallet used failed", zap.Error(err))
			}
		}

		currentWallets = withdrawWallets
		currentPubKeys = withdrawPubKeys
	}

	// Step 6: merge, if N > 1.
	mergedWalletID := currentWallets[0]
	mergedPubKey := currentPubKeys[0]

	if len(currentWallets) > 1 {
		mergeWalletID, mergePubKey, err := r.allocateAndPrime(currentWallets[0])
		if err != nil {
			return err
		}

		for i, walletID := range currentWallets {
			balance, err := c.vault.Balance(r.ctx, currentPubKeys[i])
			if err != nil {
				return apperrors.Wrap(apperrors.KindRPC, "merge balance lookup", err)
			}
			if balance == 0 {
				continue
			}
			if _, err := r.transferFull(walletID, mergePubKey, balance); err != nil {
				return err
			}
			if err := c.vault.MarkUsed(r.ctx, walletID); err != nil {
				r.log.Warn("mark withdraw wallet used failed", zap.Error(err))
			}
			if i < len(currentWallets)-1 {
				r.sleep(jitter(c.rng, 3*time.Second, 8*time.Second))
			}
		}

		mergedWalletID = mergeWalletID
		mergedPubKey = mergePubKey
	}

	// Step 7: H hops.
	hopCount := profile.hopCount(c.rng)
	currentWalletID := mergedWalletID
	currentPubKey := mergedPubKey

	for h := 0; h < hopCount; h++ {
		hopWalletID, hopPubKey, err := r.allocateAndPrime(currentWalletID)
		if err != nil {
			return err
		}
		r.sleep(jitter(c.rng, 5*time.Second, 12*time.Second))

		balance, err := c.vault.Balance(r.ctx, currentPubKey)
		if err != nil {
			return apperrors.Wrap(apperrors.KindRPC, "hop balance lookup", err)
		}
		if balance > 0 {
			if _, err := r.transferFull(currentWalletID, hopPubKey, balance); err != nil {
				return err
			}
		}
		if err := c.vault.MarkUsed(r.ctx, currentWalletID); err != nil {
			r.log.Warn("mark pre-hop wallet used failed", zap.Error(err))
		}

		currentWalletID = hopWalletID
		currentPubKey = hopPubKey
	}

	// Step 8: finalize.
	r.sleep(jitter(c.rng, 8*time.Second, 20*time.Second))

	finalBalance, err := c.vault.Balance(r.ctx, currentPubKey)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "finalize balance lookup", err)
	}
	destPubKey, err := parsePublicKey(r.swap.DestAddr)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "parse destination address", err)
	}

	var recipients []vault.Recipient
	if c.feeWallet != nil && finalBalance > r.swap.RelayerFeeLamports {
		net := finalBalance - r.swap.RelayerFeeLamports
		recipients = []vault.Recipient{
			{PublicKey: destPubKey, Lamports: net},
			{PublicKey: *c.feeWallet, Lamports: r.swap.RelayerFeeLamports},
		}
	} else {
		recipients = []vault.Recipient{{PublicKey: destPubKey, Lamports: finalBalance}}
	}

	bh, err := r.blockhash()
	if err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "fetch blockhash", err)
	}
	signed, err := c.vault.SignTransfer(r.ctx, currentWalletID, recipients, bh)
	if err != nil {
		return err
	}
	finalSig, err := c.vault.SubmitAndConfirm(r.ctx, signed)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "submit finalize transfer", err)
	}

	finalWallet, err := c.registry.GetWallet(r.ctx, currentWalletID)
	if err != nil {
		return err
	}
	if err := r.appendStep(finalWallet.PublicKey, destPubKey.String(), finalSig.String(), &finalBalance); err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "append final step", err)
	}

	if err := c.vault.MarkUsed(r.ctx, currentWalletID); err != nil {
		r.log.Warn("mark final wallet used failed", zap.Error(err))
	}

	if err := c.registry.SetFinalSig(r.ctx, r.swap.TransactionID, finalSig.String(), c.clock.Now()); err != nil {
		return apperrors.Wrap(apperrors.KindRPC, "persist final signature", err)
	}
	if err := c.registry.TransitionStatus(r.ctx, r.swap.TransactionID, models.StatusProcessing, models.StatusCompleted); err != nil {
		return apperrors.Wrap(apperrors.KindStatusConflict, "transition to completed", err)
	}

	c.publish(events.SwapCompleted, r.swap.TransactionID, finalSig.String())
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// obfuscate applies v' = max(floor, v + uniform(-R, R)).
func obfuscate(source rng.Source, amount, rangeLamports uint64) uint64 {
	delta := source.Uniform(-float64(rangeLamports), float64(rangeLamports))
	v := float64(amount) + delta
	floor := float64(relayerconfig.SOLToLamports(0.0001))
	if v < floor {
		v = floor
	}
	return uint64(v)
}

// windowStart floors t to the nearest MixingWindow boundary.
func windowStart(t time.Time) time.Time {
	w := relayerconfig.MixingWindow
	return t.Truncate(w)
}

func windowID(start time.Time) string {
	return fmt.Sprintf("%d", start.Unix())
}
