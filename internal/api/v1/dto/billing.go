package dto

// CheckoutRequest starts a subscription checkout for a paid plan.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=starter creator agency"`
}

// SessionURLResponse carries a hosted Stripe page to redirect to.
type SessionURLResponse struct {
	URL string `json:"url"`
}

type WebhookAckResponse struct {
	Received bool `json:"received"`
}
