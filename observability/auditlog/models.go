package auditlog

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is one committed program event. Digest chains every record to
// its predecessor so tampering with history is detectable.
type EventRecord struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"index;not null"`
	Attributes string `gorm:"type:text;not null"`
	PrevDigest string `gorm:"size:64;not null"`
	Digest     string `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt  time.Time
}

// ClaimFailure is an earnings claim whose transfer failed after the earnings
// were debited. Rows stay open until an operator resolves them.
type ClaimFailure struct {
	ID         string `gorm:"primaryKey;size:36"`
	Account    string `gorm:"index;not null"`
	Amount     string `gorm:"not null"`
	Reason     string `gorm:"type:text"`
	Resolved   bool   `gorm:"index"`
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// AutoMigrate creates or updates the audit tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &ClaimFailure{})
}
