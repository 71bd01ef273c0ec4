// internal/api/handlers.go
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/solrelay/mixer/internal/apperrors"
	"github.com/solrelay/mixer/internal/events"
	"github.com/solrelay/mixer/internal/recovery"
	"github.com/solrelay/mixer/internal/registry/models"
	"github.com/solrelay/mixer/internal/relayerconfig"
	"github.com/solrelay/mixer/internal/vault"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	privacyMode := "basic"
	if s.profileName == "enhanced" {
		privacyMode = "enhanced"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   s.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Network:     s.network,
		PrivacyMode: privacyMode,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		RelayerFeePct:            relayerconfig.RelayerFeePct,
		DepositFeePct:            relayerconfig.DepositFeePct,
		MinSwapLamports:          relayerconfig.MinSwapLamports,
		MaxSwapLamports:          relayerconfig.MaxSwapLamports,
		MaxNotes:                 relayerconfig.MaxNotes,
		DefaultNotes:             relayerconfig.DefaultNotes,
		MinNotes:                 relayerconfig.MinNotes,
		MixingWindowSeconds:      relayerconfig.MixingWindow.Seconds(),
		MinSplitLamports:         relayerconfig.MinSplitLamports,
		ObfuscationRangeLamports: relayerconfig.ObfuscationRangeLamports,
		RecoveryThreshold:        relayerconfig.RecoveryThreshold,
		RecoveryTimeoutSeconds:   relayerconfig.RecoveryTimeout.Seconds(),
		FeeReserveLamports:       relayerconfig.FeeReserveLamports,
		ConfigHash:               relayerconfig.ConfigHash(),
	})
}

// validateAmount enforces the [MinSwap, MaxSwap] bound; MaxSwap==0 is the
// unbounded sentinel.
func validateAmount(amount uint64) error {
	if amount < relayerconfig.MinSwapLamports {
		return apperrors.New(apperrors.KindValidation, "amount below minimum swap size")
	}
	if relayerconfig.MaxSwapLamports != 0 && amount > relayerconfig.MaxSwapLamports {
		return apperrors.New(apperrors.KindValidation, "amount exceeds maximum swap size")
	}
	return nil
}

func instructionToDTO(ix solana.Instruction) (instructionDTO, error) {
	data, err := ix.Data()
	if err != nil {
		return instructionDTO{}, err
	}
	accounts := make([]accountMetaDTO, 0, len(ix.Accounts()))
	for _, a := range ix.Accounts() {
		accounts = append(accounts, accountMetaDTO{
			PublicKey:  a.PublicKey.String(),
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		})
	}
	return instructionDTO{
		ProgramID: ix.ProgramID().String(),
		Accounts:  accounts,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	sourcePub, err := solana.PublicKeyFromBase58(req.SourceWallet)
	if err != nil {
		writeValidationError(w, "sourceWallet does not parse")
		return
	}
	if _, err := solana.PublicKeyFromBase58(req.DestinationWallet); err != nil {
		writeValidationError(w, "destinationWallet does not parse")
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	walletID, intermediatePub, err := s.vault.Allocate(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	// The deposit instruction is returned unsigned; the client selects its
	// own recent blockhash and signs locally, so custody of the source
	// wallet's key never touches the relayer.
	depositIx := system.NewTransferInstruction(req.Amount, sourcePub, intermediatePub).Build()
	ixDTO, err := instructionToDTO(depositIx)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindValidation, "encode deposit instruction", err))
		return
	}

	rawKey := make([]byte, 32)
	if _, err := cryptoRandRead(rawKey); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindValidation, "generate recovery key", err))
		return
	}
	recoveryKey := base58.Encode(rawKey)

	resp := prepareResponse{}
	resp.IntermediateWallet.PublicKey = intermediatePub.String()
	resp.IntermediateWallet.WalletID = walletID
	resp.Fee = uint64(float64(req.Amount) * relayerconfig.RelayerFeePct)
	resp.Recovery.RecoveryKey = recoveryKey
	resp.Recovery.RecoveryKeyHash = recovery.HashKey(recoveryKey)
	resp.Recovery.Threshold = relayerconfig.RecoveryThreshold
	resp.Instructions = []instructionDTO{ixDTO}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	if _, err := solana.PublicKeyFromBase58(req.SourceWallet); err != nil {
		writeValidationError(w, "sourceWallet does not parse")
		return
	}
	if _, err := solana.PublicKeyFromBase58(req.DestinationWallet); err != nil {
		writeValidationError(w, "destinationWallet does not parse")
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		writeError(w, err)
		return
	}
	if req.SourceTxSignature == "" {
		writeValidationError(w, "sourceTxSignature is required")
		return
	}
	if req.IntermediateWalletID == "" {
		writeValidationError(w, "intermediateWalletId is required")
		return
	}

	ctx := r.Context()
	if _, err := s.registry.GetWallet(ctx, req.IntermediateWalletID); err != nil {
		writeError(w, err)
		return
	}

	transactionID := uuid.NewString()
	feeLamports := uint64(float64(req.Amount) * relayerconfig.RelayerFeePct)

	swap := &models.Swap{
		TransactionID:        transactionID,
		SourceAddr:           req.SourceWallet,
		DestAddr:             req.DestinationWallet,
		AmountLamports:       req.Amount,
		IntermediateWalletID: req.IntermediateWalletID,
		SourceSig:            req.SourceTxSignature,
		Status:               models.StatusPending,
		RelayerFeeLamports:   feeLamports,
	}
	if err := s.registry.CreateSwap(ctx, swap); err != nil {
		writeError(w, err)
		return
	}

	// The global deposit counter advances once per accepted initiate,
	// independent of whether the caller opted into emergency recovery.
	count, err := s.recoveryLedger.Increment(ctx)
	if err != nil {
		s.logger.Warn("deposit counter increment failed", zap.Error(err))
	} else if req.RecoveryKey != "" {
		if err := s.recoveryLedger.Open(ctx, transactionID, count, req.RecoveryKey); err != nil {
			s.logger.Warn("open recovery record failed", zap.Error(err))
		}
	}

	if req.EncryptedMemo != "" {
		ciphertext, err := base64.StdEncoding.DecodeString(req.EncryptedMemo)
		if err != nil {
			writeValidationError(w, "encryptedMemo is not valid base64")
			return
		}
		memo := &models.EncryptedMemo{
			MemoID:        uuid.NewString(),
			TransactionID: transactionID,
			Ciphertext:    ciphertext,
		}
		if err := s.registry.StoreMemo(ctx, memo); err != nil {
			s.logger.Warn("store memo failed", zap.Error(err))
		}
	}

	s.publish(events.SwapAdmitted, transactionID, "initiated")
	writeJSON(w, http.StatusAccepted, initiateResponse{TransactionID: transactionID, Status: models.StatusPending})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	swap, err := s.registry.GetSwap(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swapToStatusResponse(swap))
}

func (s *Server) handleIntermediate(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["walletId"]
	ctx := r.Context()
	wallet, err := s.registry.GetWallet(ctx, walletID)
	if err != nil {
		writeError(w, err)
		return
	}
	pub, err := solana.PublicKeyFromBase58(wallet.PublicKey)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindValidation, "stored wallet public key is invalid", err))
		return
	}
	balance, err := s.vault.Balance(ctx, pub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intermediateResponse{PublicKey: wallet.PublicKey, Balance: balance})
}

func (s *Server) handleRecoveryAvailability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()
	swap, err := s.registry.GetSwap(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	avail, err := s.recoveryLedger.Availability(ctx, id, swap.CreatedAt, swap.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryAvailabilityResponse{
		Available: avail.Available,
		Reason:    string(avail.Reason),
		Details:   avail.Details,
	})
}

func (s *Server) handleRecoveryConsume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req recoveryConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}
	destPub, err := solana.PublicKeyFromBase58(req.DestinationWallet)
	if err != nil {
		writeValidationError(w, "destinationWallet does not parse")
		return
	}

	ctx := r.Context()
	swap, err := s.registry.GetSwap(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if swap.Status != models.StatusPending {
		writeError(w, apperrors.New(apperrors.KindStatusConflict, "swap is no longer pending; recovery is only available while funds sit at the first intermediate"))
		return
	}
	if err := s.recoveryLedger.Authorize(ctx, id, req.RecoveryKey); err != nil {
		writeError(w, err)
		return
	}

	wallet, err := s.registry.GetWallet(ctx, swap.IntermediateWalletID)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.vault.Balance(ctx, mustPubKey(wallet.PublicKey))
	if err != nil {
		writeError(w, err)
		return
	}
	if balance == 0 {
		writeError(w, apperrors.New(apperrors.KindInsufficient, "intermediate wallet has no recoverable balance"))
		return
	}

	bh, err := s.rpc.RecentBlockhash(ctx)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindRPC, "fetch blockhash", err))
		return
	}
	signed, err := s.vault.SignTransfer(ctx, swap.IntermediateWalletID, []vault.Recipient{{PublicKey: destPub, Lamports: balance}}, bh)
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := s.vault.SubmitAndConfirm(ctx, signed)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindRPC, "submit recovery transfer", err))
		return
	}

	if err := s.registry.SetFinalSig(ctx, id, sig.String(), s.clock.Now()); err != nil {
		s.logger.Warn("persist recovery signature failed", zap.Error(err))
	}
	if err := s.registry.TransitionStatus(ctx, id, models.StatusPending, models.StatusRecovered); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStatusConflict, "transition to recovered", err))
		return
	}
	if err := s.vault.MarkUsed(ctx, swap.IntermediateWalletID); err != nil {
		s.logger.Warn("mark recovered wallet used failed", zap.Error(err))
	}

	s.publish(events.SwapRecovered, id, sig.String())
	writeJSON(w, http.StatusOK, recoveryConsumeResponse{Success: true, TxSignature: sig.String()})
}

func (s *Server) handleMemo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	memo, err := s.registry.GetMemo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memoResponse{
		Encrypted: base64.StdEncoding.EncodeToString(memo.Ciphertext),
		Metadata:  memo.Metadata,
	})
}

func mustPubKey(s string) solana.PublicKey {
	pub, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}
	}
	return pub
}
