package models

import (
	"time"

	"github.com/bottlepoint/waterbot/pkg/enums"
)

// Transaction is an append-only journal row. Exactly which of the account
// references is set depends on Kind.
type Transaction struct {
	ID             int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	Kind           enums.TransactionKind `gorm:"column:kind;type:text;not null"`
	HouseholdID    *int64                `gorm:"column:household_id;index"`
	PointID        *int64                `gorm:"column:point_id;index"`
	EmployeeID     *int64                `gorm:"column:employee_id"`
	BottlesCharged int                   `gorm:"column:bottles_charged;not null;check:bottles_charged >= 0"`
	BalanceAfter   *int                  `gorm:"column:balance_after"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "transactions" }
