package types

// Button is an inline choice attached to an outgoing message. Data is echoed
// back verbatim in the callback event.
type Button struct {
	Text string
	Data string
}

// MessageRef addresses a previously sent message so it can be edited.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the ref points at nothing.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}
