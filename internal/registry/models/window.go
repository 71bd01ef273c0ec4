package models

import "time"

// MixingWindow is a wall-clock bucket of width relayerconfig.MixingWindow
// that accumulates co-mingling peers for accounting purposes. It is never
// modified once Start+window length has elapsed.
type MixingWindow struct {
	WindowID     string    `gorm:"primaryKey;type:varchar(32)"`
	Start        time.Time `gorm:"not null"`
	End          time.Time `gorm:"not null"`
	TotalAmount  uint64    `gorm:"not null;default:0"`
	TxCount      int       `gorm:"not null;default:0"`
}

func (MixingWindow) TableName() string { return "mixing_windows" }
