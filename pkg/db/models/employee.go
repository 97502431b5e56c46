package models

import "time"

type Employee struct {
	ID           int64      `gorm:"column:employee_id;primaryKey;autoIncrement:false"`
	Name         string     `gorm:"column:name;not null"`
	PhoneNumber  *string    `gorm:"column:phone_number"`
	EmployedDate *time.Time `gorm:"column:employed_date;type:date"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Employee) TableName() string { return "employees" }

// EmployeeMonthlyWork accumulates refilled bottles per employee per month.
// MonthYear is always the first day of the month in UTC.
type EmployeeMonthlyWork struct {
	EmployeeID      int64     `gorm:"column:employee_id;primaryKey;autoIncrement:false"`
	MonthYear       time.Time `gorm:"column:month_year;type:date;primaryKey"`
	BottlesPerMonth int       `gorm:"column:bottles_per_month;not null;default:0"`
}

func (EmployeeMonthlyWork) TableName() string { return "employee_monthly_work" }
