package models

// RecoveryRecord snapshots the global deposit counter at swap-creation time
// and stores the SHA-256 hash of the recovery key issued to the user. The
// `Available` flag is flipped (monotonically) on the first successful
// availability evaluation and never reverts.
type RecoveryRecord struct {
	TransactionID       string `gorm:"primaryKey;type:varchar(36)"`
	DepositCountAtCreate uint64 `gorm:"not null"`
	RecoveryKeyHash      string `gorm:"not null;type:varchar(64)"`
	Available            bool   `gorm:"not null;default:false"`
}

func (RecoveryRecord) TableName() string { return "recovery_records" }

// DepositCounter is the singleton "main" row backing the strictly monotonic
// global deposit count.
type DepositCounter struct {
	Name        string `gorm:"primaryKey;type:varchar(16)"`
	TotalDeposits uint64 `gorm:"not null;default:0"`
	LastUpdated   int64  `gorm:"not null"` // unix nanos; avoids relying on DB clock skew
}

func (DepositCounter) TableName() string { return "deposit_counters" }

// MainCounterName is the singleton counter row's key.
const MainCounterName = "main"
