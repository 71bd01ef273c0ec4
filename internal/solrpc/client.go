// Package solrpc is a thin, injectable adapter over gagliardetto/solana-go's
// rpc.Client. The wallet vault, deposit monitor, and coordinator depend on
// the Client interface rather than the concrete RPC library, so tests can
// supply a fake.
package solrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Client is the RPC surface the core components consume.
type Client interface {
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
	Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	// GetConfirmedTransaction reports whether sig is visible at the
	// "confirmed" commitment level, used by the Deposit Monitor to verify a
	// user-supplied source-transaction signature.
	GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (bool, error)
	RentExemptMinimum(ctx context.Context, dataLen uint64) (uint64, error)
}

// client wraps *rpc.Client with bounded deadlines and backoff retries
// around submission.
type client struct {
	rpc     *rpc.Client
	logger  *zap.Logger
	timeout time.Duration
	observe func(method string, d time.Duration)
}

// Option configures a client at construction.
type Option func(*client)

// WithLatencyObserver reports every RPC call's wall-clock latency, keyed by
// method name.
func WithLatencyObserver(fn func(method string, d time.Duration)) Option {
	return func(c *client) { c.observe = fn }
}

// New builds a Client against a single RPC endpoint. A production
// deployment may wrap several of these behind a round-robin pool; that
// concern is left to the caller.
func New(rpcURL string, logger *zap.Logger, timeout time.Duration, opts ...Option) Client {
	c := &client{
		rpc:     rpc.New(rpcURL),
		logger:  logger.Named("solrpc"),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) observeLatency(method string, start time.Time) {
	if c.observe != nil {
		c.observe(method, time.Since(start))
	}
}

func (c *client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	defer c.observeLatency("getLatestBlockhash", time.Now())
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		c.logger.Error("GetLatestBlockhash failed", zap.Error(err))
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

func (c *client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	defer c.observeLatency("sendTransaction", time.Now())
	op := func() (solana.Signature, error) {
		sendCtx, cancel := c.withDeadline(ctx)
		defer cancel()
		sig, err := c.rpc.SendTransactionWithOpts(sendCtx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			c.logger.Warn("SendTransaction failed, retrying", zap.Error(err))
			return solana.Signature{}, err
		}
		return sig, nil
	}
	sig, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(15*time.Second),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	defer c.observeLatency("confirmTransaction", time.Now())
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm transaction %s: %w", sig, ctx.Err())
		case <-ticker.C:
			statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

func (c *client) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	defer c.observeLatency("getBalance", time.Now())
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	res, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return res.Value, nil
}

func (c *client) GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (bool, error) {
	defer c.observeLatency("getTransaction", time.Now())
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get transaction: %w", err)
	}
	return res != nil, nil
}

func (c *client) RentExemptMinimum(ctx context.Context, dataLen uint64) (uint64, error) {
	defer c.observeLatency("getMinimumBalanceForRentExemption", time.Now())
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataLen, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("get minimum rent exemption: %w", err)
	}
	return lamports, nil
}
