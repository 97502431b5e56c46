package invitations

import (
	"context"
	"time"

	"github.com/bottlepoint/waterbot/pkg/types"
)

// Pending is an outstanding invitation, keyed by the invitee's username.
type Pending struct {
	Identity      string           `json:"identity"`
	HouseholdID   int64            `json:"household_id"`
	Address       string           `json:"address"`
	InviterChatID int64            `json:"inviter_chat_id"`
	InviterName   string           `json:"inviter_name"`
	Prompt        types.MessageRef `json:"prompt"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// Expired reports whether the invitation can no longer be answered at now.
func (p Pending) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Store holds pending invitations. Take must be atomic: of two concurrent
// callers for the same identity at most one receives the entry.
type Store interface {
	Put(ctx context.Context, p Pending) error
	Get(ctx context.Context, identity string) (*Pending, error)
	Take(ctx context.Context, identity string) (*Pending, error)
	// SetPrompt records where the prompt of the invitation created at
	// createdAt was delivered. It reports false and changes nothing when that
	// invitation is no longer pending.
	SetPrompt(ctx context.Context, identity string, createdAt time.Time, ref types.MessageRef) (bool, error)
	// TakeExpired removes and returns up to limit entries expired at now.
	TakeExpired(ctx context.Context, now time.Time, limit int) ([]Pending, error)
}
