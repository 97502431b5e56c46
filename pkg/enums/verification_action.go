package enums

import "fmt"

// VerificationAction is an invitee's answer to a membership prompt.
type VerificationAction string

const (
	VerificationConfirm VerificationAction = "confirm"
	VerificationDecline VerificationAction = "decline"
)

func (a VerificationAction) IsValid() bool {
	return a == VerificationConfirm || a == VerificationDecline
}

func ParseVerificationAction(value string) (VerificationAction, error) {
	action := VerificationAction(value)
	if !action.IsValid() {
		return "", fmt.Errorf("invalid verification action %q", value)
	}
	return action, nil
}
