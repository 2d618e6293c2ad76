package models

import "time"

// SessionTransfer is an append-only audit record of one hand-off. Rows are
// never mutated after insert except to record acceptance.
type SessionTransfer struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:50;not null;index"`

	FromType       string  `gorm:"size:20;not null"` // "robot" or "human"
	ToType         string  `gorm:"size:20;not null"`
	TransferReason *string `gorm:"type:text"`
	TransferData   *string `gorm:"type:json"`

	TransferredBy string    `gorm:"size:50;not null"`
	TransferredAt time.Time `gorm:"index"`
	AcceptedBy    *string   `gorm:"size:50"`
	AcceptedAt    *time.Time

	Status       TransferStatus `gorm:"size:20;default:pending;index"`
	UrgencyLevel UrgencyLevel   `gorm:"size:20;default:medium"`
}

// SessionOperation is a write-only audit trail of state-changing actions
// against a session. The orchestration logic never reads it back.
type SessionOperation struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:50;not null;index"`

	OperationType string  `gorm:"size:20;not null"` // create, transfer, complete, cancel, attach
	OperatorID    string  `gorm:"size:50;not null"`
	OperatorType  string  `gorm:"size:20;not null"` // "robot", "human", "system"
	OperationData *string `gorm:"type:json"`
	OperationAt   time.Time `gorm:"index"`
}
