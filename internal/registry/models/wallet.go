package models

import "time"

// IntermediateWallet is a single-use ed25519 keypair minted by the Wallet
// Vault. The encrypted secret never leaves the Vault package unencrypted
// except for the duration of a single sign operation.
type IntermediateWallet struct {
	Timestamped
	WalletID         string `gorm:"primaryKey;type:varchar(36)"`
	PublicKey        string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	EncryptedSecret  []byte `gorm:"not null;type:bytea"`
	Active           bool   `gorm:"not null;default:true;index"`
	UsedAt           *time.Time
	ObservedBalance  uint64 `gorm:"not null;default:0"`
}

func (IntermediateWallet) TableName() string { return "intermediate_wallets" }
