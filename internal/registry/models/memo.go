package models

// EncryptedMemo is opaque ciphertext produced client-side; the server
// stores and returns it verbatim and never attempts to decrypt it. Memo
// encryption is entirely the client's concern.
type EncryptedMemo struct {
	MemoID        string `gorm:"primaryKey;type:varchar(36)"`
	TransactionID string `gorm:"not null;type:varchar(36);uniqueIndex"`
	Ciphertext    []byte `gorm:"not null;type:bytea"`
	Metadata      string `gorm:"type:text"`
}

func (EncryptedMemo) TableName() string { return "encrypted_memos" }
