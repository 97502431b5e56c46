package enums

import "fmt"

// ConversationState tags where a chat currently is in a multi-step exchange.
type ConversationState string

const (
	StateAwaitingAddress           ConversationState = "awaiting_address"
	StateAwaitingNationalID        ConversationState = "awaiting_national_id"
	StateInvitedAwaitingNationalID ConversationState = "invited_awaiting_national_id"
	StateAwaitingName              ConversationState = "awaiting_name"
	StateAwaitingPhone             ConversationState = "awaiting_phone"
	StateCompleted                 ConversationState = "completed"
	StateAwaitingInvitees          ConversationState = "awaiting_invitees"
	StateAwaitingRefillAmount      ConversationState = "awaiting_refill_amount"
)

var validConversationStates = []ConversationState{
	StateAwaitingAddress,
	StateAwaitingNationalID,
	StateInvitedAwaitingNationalID,
	StateAwaitingName,
	StateAwaitingPhone,
	StateCompleted,
	StateAwaitingInvitees,
	StateAwaitingRefillAmount,
}

func (s ConversationState) IsValid() bool {
	for _, candidate := range validConversationStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsRegistration reports whether the state belongs to the registration flow.
func (s ConversationState) IsRegistration() bool {
	switch s {
	case StateAwaitingAddress, StateAwaitingNationalID, StateInvitedAwaitingNationalID,
		StateAwaitingName, StateAwaitingPhone:
		return true
	}
	return false
}

func ParseConversationState(value string) (ConversationState, error) {
	for _, candidate := range validConversationStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conversation state %q", value)
}
