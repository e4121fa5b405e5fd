package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is. Each typed error below unwraps to one of them.
var (
	ErrAuthentication       = errors.New("authentication failed")
	ErrAuthorization        = errors.New("not authorized")
	ErrValidation           = errors.New("validation failed")
	ErrSubscriptionInactive = errors.New("subscription not active")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrNotFound             = errors.New("not found")
	ErrUpstream             = errors.New("upstream failure")
)

// AuthenticationError is returned for a bad or missing token or webhook signature.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }
func (e *AuthenticationError) Unwrap() error        { return e.Err }

// AuthorizationError is returned when the caller's role does not allow the action.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string   { return "not authorized: " + e.Reason }
func (e *AuthorizationError) Is(t error) bool { return t == ErrAuthorization }

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(t error) bool { return t == ErrValidation }

// SubscriptionInactiveError is returned when a paid plan has no active or trialing subscription.
type SubscriptionInactiveError struct {
	Plan   string
	Status string
}

func (e *SubscriptionInactiveError) Error() string {
	return fmt.Sprintf("subscription not active: plan=%s status=%s", e.Plan, e.Status)
}

func (e *SubscriptionInactiveError) Is(t error) bool { return t == ErrSubscriptionInactive }

// InsufficientCreditsError carries the balance observed under the user's ledger lock.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
	Plan     string
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance=%d required=%d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(t error) bool { return t == ErrInsufficientCredits }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(t error) bool { return t == ErrNotFound }

// UpstreamError wraps a payment processor or generation backend failure.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Is(t error) bool { return t == ErrUpstream }
func (e *UpstreamError) Unwrap() error   { return e.Err }

// NotFound is shorthand used by repositories.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrSubscriptionInactive), errors.Is(err, ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Terminal reports whether retrying the same request can never succeed.
func Terminal(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrValidation)
}
