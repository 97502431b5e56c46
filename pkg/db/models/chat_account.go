package models

import "time"

// ChatAccount remembers every chat that has written to a bot so prompts can
// be delivered by username later.
type ChatAccount struct {
	ChatID     int64     `gorm:"column:chat_id;primaryKey;autoIncrement:false"`
	Username   *string   `gorm:"column:username;index"`
	FirstName  string    `gorm:"column:first_name"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
}

func (ChatAccount) TableName() string { return "chat_accounts" }
