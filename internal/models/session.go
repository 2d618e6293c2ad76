package models

import "time"

// Session is the central entity: one conversation between an account and a
// shop. At most one session per (account_id, shop_name) pair may be live
// (active or transferred) at any instant; the creation path completes all
// existing live sessions for the pair before inserting.
type Session struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:50;uniqueIndex;not null"`
	AccountID string `gorm:"size:50;not null;index:idx_account_shop_state"`
	ShopName  string `gorm:"size:100;not null;index:idx_account_shop_state"`

	TaskType  TaskType     `gorm:"size:50;not null"`
	State     SessionState `gorm:"size:20;not null;index:idx_account_shop_state"`
	CreatedBy string       `gorm:"size:20;not null"` // "robot" or "human"

	Priority       int     `gorm:"default:3;index:idx_priority_state"`
	ExternalTaskID *string `gorm:"size:100;index"`

	MessageCount int `gorm:"default:0"`

	CreatedAt    time.Time
	LastActivity time.Time `gorm:"index"`
	TimeoutAt    *time.Time

	TransferredAt  *time.Time
	TransferReason *string `gorm:"type:text"`

	Messages   []Message          `gorm:"foreignKey:SessionID;references:SessionID"`
	Transfers  []SessionTransfer  `gorm:"foreignKey:SessionID;references:SessionID"`
	Operations []SessionOperation `gorm:"foreignKey:SessionID;references:SessionID"`
}

// Message is one chat utterance, immutable once stored. MessageID is
// supplied by the platform and globally unique, which makes re-delivery
// idempotent.
type Message struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:50;uniqueIndex;not null"`
	SessionID string `gorm:"size:50;not null;index"`

	Content    string `gorm:"type:text;not null"`
	FromSource string `gorm:"size:20;not null"` // "shop" or "account"
	Sender     string `gorm:"size:100"`

	SentAt    time.Time `gorm:"not null"`
	CreatedAt time.Time

	Session Session `gorm:"foreignKey:SessionID;references:SessionID"`
}
