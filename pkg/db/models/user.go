package models

import "time"

// User is a resident. Identity columns are nullable so a member created by an
// invitation can exist before the person completes their own profile.
type User struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID      *int64    `gorm:"column:chat_id;uniqueIndex"`
	Username    *string   `gorm:"column:username;uniqueIndex"`
	IIN         *string   `gorm:"column:iin;type:char(12);uniqueIndex"`
	Name        *string   `gorm:"column:name"`
	Phone       *string   `gorm:"column:phone;uniqueIndex"`
	HouseholdID *int64    `gorm:"column:household_id;index"`
	Verified    bool      `gorm:"column:verified;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// HasProfile reports whether the registration fields were filled in.
func (u User) HasProfile() bool {
	return u.IIN != nil && u.Name != nil && u.Phone != nil
}
