// internal/api/dto.go
package api

import "github.com/solrelay/mixer/internal/registry/models"

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Network     string `json:"network"`
	PrivacyMode string `json:"privacyMode"`
}

type configResponse struct {
	RelayerFeePct            float64 `json:"relayerFeePct"`
	DepositFeePct            float64 `json:"depositFeePct"`
	MinSwapLamports          uint64  `json:"minSwapLamports"`
	MaxSwapLamports          uint64  `json:"maxSwapLamports"`
	MaxNotes                 int     `json:"maxNotes"`
	DefaultNotes             int     `json:"defaultNotes"`
	MinNotes                 int     `json:"minNotes"`
	MixingWindowSeconds      float64 `json:"mixingWindowSeconds"`
	MinSplitLamports         uint64  `json:"minSplitLamports"`
	ObfuscationRangeLamports uint64  `json:"obfuscationRangeLamports"`
	RecoveryThreshold        int     `json:"recoveryThreshold"`
	RecoveryTimeoutSeconds   float64 `json:"recoveryTimeoutSeconds"`
	FeeReserveLamports       uint64  `json:"feeReserveLamports"`
	ConfigHash               string  `json:"configHash"`
}

type prepareRequest struct {
	SourceWallet      string `json:"sourceWallet"`
	DestinationWallet string `json:"destinationWallet"`
	Amount            uint64 `json:"amount"`
}

type accountMetaDTO struct {
	PublicKey  string `json:"publicKey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instructionDTO struct {
	ProgramID string           `json:"programId"`
	Accounts  []accountMetaDTO `json:"accounts"`
	Data      string           `json:"data"`
}

type prepareResponse struct {
	IntermediateWallet struct {
		PublicKey string `json:"publicKey"`
		WalletID  string `json:"walletId"`
	} `json:"intermediateWallet"`
	Fee      uint64 `json:"fee"`
	Recovery struct {
		RecoveryKey     string `json:"recoveryKey"`
		RecoveryKeyHash string `json:"recoveryKeyHash"`
		Threshold       int    `json:"threshold"`
	} `json:"recovery"`
	Instructions []instructionDTO `json:"instructions"`
}

type initiateRequest struct {
	SourceWallet         string `json:"sourceWallet"`
	DestinationWallet    string `json:"destinationWallet"`
	Amount               uint64 `json:"amount"`
	SourceTxSignature    string `json:"sourceTxSignature"`
	IntermediateWalletID string `json:"intermediateWalletId"`
	RecoveryKey          string `json:"recoveryKey,omitempty"`
	EncryptedMemo        string `json:"encryptedMemo,omitempty"`
}

type initiateResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

type stepDTO struct {
	StepIndex int     `json:"stepIndex"`
	FromAddr  string  `json:"fromAddr"`
	ToAddr    string  `json:"toAddr"`
	TxSig     string  `json:"txSig"`
	Timestamp string  `json:"timestamp"`
	Amount    *uint64 `json:"amountLamports,omitempty"`
}

type statusResponse struct {
	TransactionID      string    `json:"transactionId"`
	SourceAddr         string    `json:"sourceAddr"`
	DestAddr           string    `json:"destAddr"`
	AmountLamports     uint64    `json:"amountLamports"`
	Status             string    `json:"status"`
	RelayerFeeLamports uint64    `json:"relayerFeeLamports"`
	FinalSig           *string   `json:"finalSig,omitempty"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	CreatedAt          string    `json:"createdAt"`
	CompletedAt        *string   `json:"completedAt,omitempty"`
	Steps              []stepDTO `json:"steps"`
}

func swapToStatusResponse(swap *models.Swap) statusResponse {
	steps := make([]stepDTO, 0, len(swap.Steps))
	for _, s := range swap.Steps {
		steps = append(steps, stepDTO{
			StepIndex: s.StepIndex,
			FromAddr:  s.FromAddr,
			ToAddr:    s.ToAddr,
			TxSig:     s.TxSig,
			Timestamp: s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			Amount:    s.AmountLamports,
		})
	}
	var completedAt *string
	if swap.CompletedAt != nil {
		s := swap.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z")
		completedAt = &s
	}
	return statusResponse{
		TransactionID:      swap.TransactionID,
		SourceAddr:         swap.SourceAddr,
		DestAddr:           swap.DestAddr,
		AmountLamports:     swap.AmountLamports,
		Status:             swap.Status,
		RelayerFeeLamports: swap.RelayerFeeLamports,
		FinalSig:           swap.FinalSig,
		ErrorMessage:       swap.ErrorMessage,
		CreatedAt:          swap.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		CompletedAt:        completedAt,
		Steps:              steps,
	}
}

type intermediateResponse struct {
	PublicKey string `json:"publicKey"`
	Balance   uint64 `json:"balance"`
}

type recoveryAvailabilityResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
	Details   string `json:"details"`
}

type recoveryConsumeRequest struct {
	RecoveryKey       string `json:"recoveryKey"`
	DestinationWallet string `json:"destinationWallet"`
}

type recoveryConsumeResponse struct {
	Success    bool   `json:"success"`
	TxSignature string `json:"txSignature,omitempty"`
}

type memoResponse struct {
	Encrypted string `json:"encrypted"`
	Metadata  string `json:"metadata"`
}
