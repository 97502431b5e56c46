// Package session keeps the per-chat conversation state that drives the
// registration and refill dialogs.
package session

import (
	"context"
	"time"

	"github.com/bottlepoint/waterbot/pkg/enums"
)

// Session is the conversation state of one chat.
type Session struct {
	ChatID    int64                   `json:"chat_id"`
	State     enums.ConversationState `json:"state"`
	Data      Data                    `json:"data"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Data holds what the user has entered so far.
type Data struct {
	Address     string   `json:"address,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	HouseholdID int64    `json:"household_id,omitempty"`
	Invited     bool     `json:"invited,omitempty"`
	IIN         string   `json:"iin,omitempty"`
	Name        string   `json:"name,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	PointID     int64    `json:"point_id,omitempty"`
}

// Store persists sessions keyed by chat id. Get returns nil, nil when the
// chat has no live session.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, chatID int64) error
}
