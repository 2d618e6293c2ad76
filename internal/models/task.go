package models

import "time"

// SessionTask is one unit of outbound work bound to a session. The numeric
// row ID is what travels through the level queues to the external workers,
// so duplicate deliveries resolve to the same row.
type SessionTask struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	ExternalTaskType string `gorm:"size:50;not null"`
	ExternalTaskID   string `gorm:"size:256;uniqueIndex;not null"`

	TaskCreatedAt  time.Time
	TaskFinishedAt *time.Time
	TaskStatus     int `gorm:"not null;default:0"` // 0 not started, 1 done, 2 skipped

	SendContent string `gorm:"type:text"`
	SessionID   string `gorm:"size:50;not null;index"`

	Session Session `gorm:"foreignKey:SessionID;references:SessionID"`
}

// BargainTask mirrors the upstream bargain_task table. The table is owned
// by the upstream purchasing system; this service only reads it to resolve
// dispatch destinations, so only the consumed columns are mapped.
type BargainTask struct {
	CpmasoTradeID        uint   `gorm:"column:cpmaso_trade_id;primaryKey"`
	TradeNo              string `gorm:"size:64;not null"`
	TradePlatformOrderID string `gorm:"size:64;not null"`
	Platform             string `gorm:"size:64;not null"`
	ShopName             string `gorm:"size:256"`
	TaskStatus           int    `gorm:"not null;default:0"`
	UpdateTime           time.Time
}

// TableName keeps the upstream table name, which does not follow GORM's
// pluralization convention.
func (BargainTask) TableName() string { return "bargain_task" }
