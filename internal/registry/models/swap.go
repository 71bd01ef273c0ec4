package models

import "time"

// Status values form a DAG: pending -> processing -> {completed, failed};
// pending -> recovered. processing -> recovered is forbidden.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRecovered  = "recovered"
)

// Swap is the authoritative row for one relay request.
type Swap struct {
	Timestamped
	TransactionID         string `gorm:"primaryKey;type:varchar(36)"`
	SourceAddr            string `gorm:"not null;type:varchar(44)"`
	DestAddr              string `gorm:"not null;type:varchar(44)"`
	AmountLamports        uint64 `gorm:"not null"`
	IntermediateWalletID  string `gorm:"not null;type:varchar(36);index"`
	SourceSig             string `gorm:"not null;type:varchar(88)"`
	Status                string `gorm:"not null;type:varchar(20);index"`
	RelayerFeeLamports    uint64 `gorm:"not null"`
	FinalSig              *string `gorm:"type:varchar(88)"`
	CompletedAt           *time.Time
	ErrorMessage          string `gorm:"type:text"`

	Steps []SwapStep `gorm:"foreignKey:TransactionID;references:TransactionID"`
}

func (Swap) TableName() string { return "swaps" }

// SwapStep records one confirmed on-chain transfer in a swap's wallet chain.
// Rows are appended only after RPC confirmation, never before, so the
// last persisted step always identifies where the funds currently sit.
type SwapStep struct {
	TransactionID string    `gorm:"primaryKey;type:varchar(36)"`
	StepIndex     int       `gorm:"primaryKey"`
	FromAddr      string    `gorm:"not null;type:varchar(44)"`
	ToAddr        string    `gorm:"not null;type:varchar(44)"`
	TxSig         string    `gorm:"not null;type:varchar(88)"`
	Timestamp     time.Time `gorm:"not null"`
	AmountLamports *uint64
}

func (SwapStep) TableName() string { return "swap_steps" }
