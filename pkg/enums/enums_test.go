package enums

import "testing"

func TestParseTransactionKind(t *testing.T) {
	for _, kind := range validTransactionKinds {
		got, err := ParseTransactionKind(string(kind))
		if err != nil || got != kind {
			t.Fatalf("expected %s to parse, got %q err=%v", kind, got, err)
		}
	}
	if _, err := ParseTransactionKind("withdrawal"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestConversationStateRegistrationMembership(t *testing.T) {
	if !StateInvitedAwaitingNationalID.IsRegistration() {
		t.Fatal("invited state belongs to registration")
	}
	if StateAwaitingRefillAmount.IsRegistration() || StateCompleted.IsRegistration() {
		t.Fatal("refill and completed are not live registration states")
	}
	if _, err := ParseConversationState("awaiting_phone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ConversationState("nope").IsValid() {
		t.Fatal("unexpected valid state")
	}
}

func TestParseVerificationAction(t *testing.T) {
	if a, err := ParseVerificationAction("confirm"); err != nil || a != VerificationConfirm {
		t.Fatalf("unexpected parse result %q %v", a, err)
	}
	if _, err := ParseVerificationAction("maybe"); err == nil {
		t.Fatal("expected invalid action to fail")
	}
}
