// internal/storage/models/trade.go
package models

import "time"

// Trade records a completed (or failed) exit for operator diagnosis.
type Trade struct {
	BaseModel
	PositionID       string     `gorm:"index;not null;type:varchar(64)"`
	TokenMint        string     `gorm:"index;not null;type:varchar(44)"`
	UserID           string     `gorm:"not null;type:varchar(64)"`
	Signature        string     `gorm:"type:varchar(88)"`
	Trigger          string     `gorm:"not null;type:varchar(20)"`
	EntryPrice       string     `gorm:"not null;type:varchar(40)"`
	ExitPrice        string     `gorm:"type:varchar(40)"`
	PnLPercent       string     `gorm:"type:varchar(40)"`
	Method           string     `gorm:"type:varchar(10)"`
	ConfirmationMs   int64      ``
	Success          bool       `gorm:"not null"`
	ErrorMessage     string     `gorm:"type:text"`
	SubmittedAt      time.Time  ``
	ConfirmedAt      *time.Time ``
	Slot             *uint64    ``
	TokenBalanceUsed uint64     ``
}
