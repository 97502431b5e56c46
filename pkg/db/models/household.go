package models

import "time"

// Household is a residence account. Its balance only moves through the ledger.
type Household struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Address       string    `gorm:"column:address;not null;uniqueIndex"`
	Longitude     *float64  `gorm:"column:longitude"`
	Latitude      *float64  `gorm:"column:latitude"`
	BottleBalance int       `gorm:"column:bottle_balance;not null;check:bottle_balance >= 0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Household) TableName() string { return "households" }
