package dto

// ErrorResponse is the body of every non-2xx API response. The optional
// fields are set for payment-required rejections.
type ErrorResponse struct {
	Error            string `json:"error"`
	CreditsRemaining *int64 `json:"credits_remaining,omitempty"`
	Needed           *int64 `json:"needed,omitempty"`
	Plan             string `json:"plan,omitempty"`
	Status           string `json:"status,omitempty"`
}
