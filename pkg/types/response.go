package types

// SuccessEnvelope wraps every successful ops response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public shape of an error. Details are only present for
// codes whose metadata allows them.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
