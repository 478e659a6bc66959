package responses

// SuccessBody wraps every 2xx JSON payload.
type SuccessBody struct {
	Data any `json:"data"`
}

// ErrorBody is the only shape a failed request ever returns.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
