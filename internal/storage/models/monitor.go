// internal/storage/models/monitor.go
package models

import "time"

// MonitorState is the durable record for one watched position. Price fields
// are stored as exact decimal strings to avoid floating-point drift across
// persistence round-trips.
type MonitorState struct {
	BaseModel
	PositionID      string     `gorm:"uniqueIndex;not null;type:varchar(64)"`
	TokenMint       string     `gorm:"index;not null;type:varchar(44)"`
	UserID          string     `gorm:"index;not null;type:varchar(64)"`
	EntryPrice      string     `gorm:"not null;type:varchar(40)"`
	CurrentPrice    string     `gorm:"type:varchar(40)"`
	LastPriceUpdate *time.Time ``
	TakeProfitPrice *string    `gorm:"type:varchar(40)"`
	StopLossPrice   *string    `gorm:"type:varchar(40)"`
	TrailingStop    bool       `gorm:"not null;default:false"`
	HighestPrice    *string    `gorm:"type:varchar(40)"`
	PriceChecks     int64      `gorm:"not null;default:0"`
	ExitAttempts    int        `gorm:"not null;default:0"`
	LastCheckAt     *time.Time ``
	Status          string     `gorm:"index;not null;type:varchar(20)"`
	TokenBalance    uint64     `gorm:"not null;default:0"`
	SlippageType    string     `gorm:"type:varchar(10)"`
	SlippageValue   float64    `gorm:"type:decimal(10,4)"`
	PriorityLevel   string     `gorm:"type:varchar(10)"`
	UseRelay        bool       `gorm:"not null;default:true"`
	LastTrigger     string     `gorm:"type:varchar(20)"`
	LastError       string     `gorm:"type:text"`
}
