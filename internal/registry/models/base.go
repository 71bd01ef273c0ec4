// Package models holds the gorm row definitions for the relayer's tables.
// Every entity is keyed by a caller-supplied string id (a UUID for wallets,
// swaps, recovery records and memos; a fixed name for the deposit counter;
// the window-start key for mixing windows) rather than an auto-increment id,
// since the vault and coordinator hand identities across component
// boundaries.
package models

import "time"

// Timestamped gives the tables that embed it (IntermediateWallet, Swap)
// CreatedAt/UpdatedAt without forcing a
// surrogate uint primary key onto UUID-identified domain rows.
type Timestamped struct {
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
