package models

import "time"

// CollectionPoint is a physical location holding a stock of bottles.
type CollectionPoint struct {
	ID           int64     `gorm:"column:point_id;primaryKey;autoIncrement"`
	Address      string    `gorm:"column:address;not null;uniqueIndex"`
	Longitude    *float64  `gorm:"column:longitude"`
	Latitude     *float64  `gorm:"column:latitude"`
	BottleAmount int       `gorm:"column:bottle_amount;not null;default:0;check:bottle_amount >= 0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CollectionPoint) TableName() string { return "collection_points" }
