package models

import "time"

// Account is the operator's own login identity on a marketplace. Rows are
// created lazily on first reference and never deleted.
type Account struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AccountID   string `gorm:"size:50;uniqueIndex;not null"`
	AccountName string `gorm:"size:100"`
	Platform    string `gorm:"size:50;not null"`
	IsActive    bool   `gorm:"default:true"`
	CreatedAt   time.Time

	Sessions []Session `gorm:"foreignKey:AccountID;references:AccountID"`
}

// Shop is the counterparty storefront. ShopName is the natural key; ShopID
// is a denormalized marketplace identifier that may become known later and
// is then backfilled in place.
type Shop struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	ShopName  string  `gorm:"size:100;uniqueIndex;not null"`
	ShopID    *string `gorm:"size:50;uniqueIndex"`
	CreatedAt time.Time

	Sessions []Session `gorm:"foreignKey:ShopName;references:ShopName"`
}
