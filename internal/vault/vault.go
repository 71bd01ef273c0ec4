// Package vault owns the intermediate wallets: ed25519 keypair generation,
// AEAD-at-rest secret storage, and signed SOL transfer construction.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/registry"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/relayerconfig"
	"github.com/solrelay/mixer/internal/solrpc"
)

// computeUnitPriceMicroLamports is the fixed priority fee attached to every
// outgoing transfer so confirmations do not stall during congestion. Kept
// small: the per-wallet fee reserve already budgets for it.
const computeUnitPriceMicroLamports = 1_000

// Recipient is one destination of a sign_transfer call.
type Recipient struct {
	PublicKey solana.PublicKey
	Lamports  uint64
}

// SignedTransfer is the result of SignTransfer: the signed transaction plus
// the scaling applied to satisfy the fee/rent reserve.
type SignedTransfer struct {
	Tx          *solana.Transaction
	ScaleFactor float64
}

// Vault is the Wallet Vault. masterKey is 256 bits, held for the process
// lifetime and zeroed by Close.
type Vault struct {
	registry  registry.Registry
	rpc       solrpc.Client
	clock     clock.Clock
	logger    *zap.Logger
	masterKey []byte

	// treasury is optional: consulted only when a freshly allocated wallet
	// cannot be primed from its funding source. Its absence is a legitimate
	// configuration.
	treasury *solana.PrivateKey
}

// Option configures a Vault at construction.
type Option func(*Vault)

// WithTreasury installs an optional treasury signing key.
func WithTreasury(key solana.PrivateKey) Option {
	return func(v *Vault) { v.treasury = &key }
}

// New builds a Vault. masterKey must be exactly 32 bytes (AES-256).
func New(reg registry.Registry, rpcClient solrpc.Client, clk clock.Clock, logger *zap.Logger, masterKey []byte, opts ...Option) (*Vault, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("vault: master key must be 32 bytes, got %d", len(masterKey))
	}
	v := &Vault{
		registry:  reg,
		rpc:       rpcClient,
		clock:     clk,
		logger:    logger.Named("vault"),
		masterKey: append([]byte(nil), masterKey...),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Close zeroes the master key buffer. Call once at process shutdown.
func (v *Vault) Close() {
	for i := range v.masterKey {
		v.masterKey[i] = 0
	}
}

func (v *Vault) newAEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault: build aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// encryptSecret returns nonce(12) || ciphertext || tag(16); the tag sits at
// the end because it is where cipher.AEAD.Seal appends it.
func (v *Vault) encryptSecret(secret []byte) ([]byte, error) {
	aead, err := v.newAEAD()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, secret, nil)
	return append(nonce, sealed...), nil
}

func (v *Vault) decryptSecret(blob []byte) ([]byte, error) {
	aead, err := v.newAEAD()
	if err != nil {
		return nil, err
	}
	nonceSize := aead.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("vault: encrypted secret truncated")
	}
	nonce, ct := blob[:nonceSize], blob[nonceSize:]
	return aead.Open(nil, nonce, ct, nil)
}

// Allocate generates a fresh ed25519 keypair, encrypts the secret, and
// persists an active IntermediateWallet row.
func (v *Vault) Allocate(ctx context.Context) (walletID string, pubKey solana.PublicKey, err error) {
	kp := solana.NewWallet()
	encrypted, err := v.encryptSecret(kp.PrivateKey)
	if err != nil {
		return "", solana.PublicKey{}, err
	}

	walletID = uuid.NewString()
	row := &models.IntermediateWallet{
		WalletID:        walletID,
		PublicKey:       kp.PublicKey().String(),
		EncryptedSecret: encrypted,
		Active:          true,
	}
	row.CreatedAt = v.clock.Now()
	row.UpdatedAt = v.clock.Now()

	if err := v.registry.CreateWallet(ctx, row); err != nil {
		return "", solana.PublicKey{}, err
	}
	v.logger.Debug("allocated intermediate wallet", zap.String("wallet_id", walletID))
	return walletID, kp.PublicKey(), nil
}

// HasTreasury reports whether a treasury signing key was configured.
func (v *Vault) HasTreasury() bool { return v.treasury != nil }

// ReserveLamports computes the fee/rent reserve a wallet must always
// retain.
func (v *Vault) ReserveLamports(ctx context.Context) (uint64, error) {
	rentMin, err := v.rpc.RentExemptMinimum(ctx, 0)
	if err != nil {
		return 0, err
	}
	return relayerconfig.FeeReserveLamports + rentMin, nil
}

// SignTransfer looks up walletID's encrypted secret, decrypts it, builds one
// system-transfer instruction per recipient with walletID as fee payer,
// signs, and zeroes the decrypted secret before returning. If the requested
// total exceeds what the wallet can safely send while retaining its
// fee/rent reserve, all recipient amounts are scaled down uniformly and the
// applied factor is reported in ScaleFactor (1.0 when no scaling occurred).
func (v *Vault) SignTransfer(ctx context.Context, walletID string, recipients []Recipient, recentBlockhash solana.Hash) (*SignedTransfer, error) {
	row, err := v.registry.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !row.Active {
		return nil, apperrors.New(apperrors.KindInsufficient, fmt.Sprintf("wallet %s is inactive", walletID))
	}

	secret, err := v.decryptSecret(row.EncryptedSecret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindRPC, "decrypt wallet secret", err)
	}
	defer zeroBytes(secret)
	privKey := solana.PrivateKey(secret)
	pubKey := privKey.PublicKey()

	balance, err := v.rpc.Balance(ctx, pubKey)
	if err != nil {
		return nil, err
	}
	reserve, err := v.ReserveLamports(ctx)
	if err != nil {
		return nil, err
	}
	callable := uint64(0)
	if balance > reserve {
		callable = balance - reserve
	}

	var requested uint64
	for _, r := range recipients {
		requested += r.Lamports
	}
	if requested == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "sign_transfer: no recipients")
	}

	scale := 1.0
	finalAmounts := make([]uint64, len(recipients))
	if requested > callable {
		scale = float64(callable) / float64(requested)
		var scaledTotal uint64
		for i, r := range recipients {
			amt := uint64(float64(r.Lamports) * scale)
			finalAmounts[i] = amt
			scaledTotal += amt
		}
		v.logger.Warn("scaling transfer to fit reserve",
			zap.String("wallet_id", walletID),
			zap.Uint64("requested", requested),
			zap.Uint64("callable", callable),
			zap.Float64("scale_factor", scale),
		)
	} else {
		copy(finalAmounts, lamportsOf(recipients))
	}

	transfers := make([]solana.Instruction, 0, len(recipients))
	for i, r := range recipients {
		if finalAmounts[i] == 0 {
			continue
		}
		transfers = append(transfers, system.NewTransferInstruction(
			finalAmounts[i],
			pubKey,
			r.PublicKey,
		).Build())
	}
	if len(transfers) == 0 {
		return nil, apperrors.New(apperrors.KindInsufficient, fmt.Sprintf("wallet %s cannot cover any transfer after reserve", walletID))
	}

	instructions := make([]solana.Instruction, 0, len(transfers)+1)
	instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(computeUnitPriceMicroLamports).Build())
	instructions = append(instructions, transfers...)

	tx, err := solana.NewTransaction(instructions, recentBlockhash, solana.TransactionPayer(pubKey))
	if err != nil {
		return nil, fmt.Errorf("vault: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pubKey) {
			return &privKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("vault: sign transaction: %w", err)
	}

	return &SignedTransfer{Tx: tx, ScaleFactor: scale}, nil
}

func lamportsOf(recipients []Recipient) []uint64 {
	out := make([]uint64, len(recipients))
	for i, r := range recipients {
		out[i] = r.Lamports
	}
	return out
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SubmitAndConfirm submits a signed transaction with preflight checks on and
// awaits confirmed commitment. The wait ends at the RPC client's deadline;
// the expiry of the blockhash used to build the transaction is not tracked.
func (v *Vault) SubmitAndConfirm(ctx context.Context, signed *SignedTransfer) (solana.Signature, error) {
	sig, err := v.rpc.SendTransaction(ctx, signed.Tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := v.rpc.ConfirmTransaction(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// Balance performs a live RPC lookup; the Vault never caches balances.
func (v *Vault) Balance(ctx context.Context, pubKey solana.PublicKey) (uint64, error) {
	return v.rpc.Balance(ctx, pubKey)
}

// MarkUsed deactivates a wallet. Idempotent: marking an already-inactive
// wallet again is a no-op.
func (v *Vault) MarkUsed(ctx context.Context, walletID string) error {
	return v.registry.MarkWalletUsed(ctx, walletID, v.clock.Now())
}

// Prime transfers the minimum rent-exempt + fee-reserve amount from a
// funding wallet to a freshly allocated wallet so it can later sign its own
// outgoing transfer. If fundingWalletID cannot cover the reserve and a
// treasury key is configured, the treasury funds the reserve instead; if
// neither succeeds the caller should fail the swap with CannotPrime.
func (v *Vault) Prime(ctx context.Context, fundingWalletID string, target solana.PublicKey, recentBlockhash solana.Hash) (solana.Signature, error) {
	reserve, err := v.ReserveLamports(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	signed, err := v.SignTransfer(ctx, fundingWalletID, []Recipient{{PublicKey: target, Lamports: reserve}}, recentBlockhash)
	if err == nil && signed.ScaleFactor < 1.0 {
		// A scaled-down prime would leave the target short of its reserve.
		err = apperrors.New(apperrors.KindInsufficient, fmt.Sprintf("wallet %s cannot cover the full priming reserve", fundingWalletID))
	}
	if err == nil {
		return v.SubmitAndConfirm(ctx, signed)
	}
	if v.treasury == nil {
		return solana.Signature{}, apperrors.Wrap(apperrors.KindCannotPrime, "cannot prime wallet and no treasury configured", err)
	}

	tx, buildErr := solana.NewTransaction(
		[]solana.Instruction{
			computebudget.NewSetComputeUnitPriceInstruction(computeUnitPriceMicroLamports).Build(),
			system.NewTransferInstruction(reserve, v.treasury.PublicKey(), target).Build(),
		},
		recentBlockhash,
		solana.TransactionPayer(v.treasury.PublicKey()),
	)
	if buildErr != nil {
		return solana.Signature{}, apperrors.Wrap(apperrors.KindCannotPrime, "build treasury priming transaction", buildErr)
	}
	if _, signErr := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(v.treasury.PublicKey()) {
			return v.treasury
		}
		return nil
	}); signErr != nil {
		return solana.Signature{}, apperrors.Wrap(apperrors.KindCannotPrime, "sign treasury priming transaction", signErr)
	}

	return v.SubmitAndConfirm(ctx, &SignedTransfer{Tx: tx, ScaleFactor: 1.0})
}
