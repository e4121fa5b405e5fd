package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

// StripeOptions configures checkout and portal sessions.
type StripeOptions struct {
	SecretKey string
	Prices    map[model.Plan]string
	AppURL    string
	Timeout   time.Duration
}

// StripeService creates Stripe Checkout and Customer Portal sessions.
type StripeService struct {
	prices      map[model.Plan]string
	appURL      string
	subs        *SubscriptionService
	newCheckout func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortal   func(*stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	logger      zerolog.Logger
}

// NewStripeService initializes the Stripe key and HTTP timeout and returns a
// service with a scoped logger.
func NewStripeService(opts StripeOptions, subs *SubscriptionService, logger zerolog.Logger) *StripeService {
	stripe.Key = opts.SecretKey
	if opts.Timeout > 0 {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient: &http.Client{Timeout: opts.Timeout},
		}))
	}
	return &StripeService{
		prices:      opts.Prices,
		appURL:      strings.TrimRight(opts.AppURL, "/"),
		subs:        subs,
		newCheckout: checkoutsession.New,
		newPortal:   billingsession.New,
		logger:      logger.With().Str("service", "StripeService").Logger(),
	}
}

// CreateCheckoutSession creates a subscription Checkout session for plan. The
// session and its subscription carry {plan, user_id} metadata, which the
// webhook gateway reads back on completion.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, id Identity, planName string) (string, error) {
	plan, ok := model.ParsePlan(planName)
	if !ok || !plan.Paid() {
		return "", apperror.Invalid("plan", fmt.Sprintf("unknown paid plan %q", planName))
	}
	priceID := s.prices[plan]
	if priceID == "" {
		return "", apperror.Invalid("plan", "missing price id for plan")
	}

	metadata := map[string]string{"plan": string(plan), "user_id": id.UserID}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		SuccessURL:        stripe.String(s.appURL + "/web/app.html?paid=1"),
		CancelURL:         stripe.String(s.appURL + "/web/index.html?canceled=1"),
		ClientReferenceID: stripe.String(id.UserID),
		Metadata:          metadata,
		SubscriptionData:  &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata},
	}
	params.Context = ctx

	customerID, err := s.customerID(ctx, id.UserID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else if id.Email != "" {
		params.CustomerEmail = stripe.String(id.Email)
	}

	sess, err := s.newCheckout(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.UserID).Str("plan", string(plan)).Msg("Failed to create Stripe checkout session")
		return "", &apperror.UpstreamError{Service: "payment processor", Err: err}
	}
	s.logger.Info().Str("user_id", id.UserID).Str("plan", string(plan)).Str("session_id", sess.ID).Msg("Checkout session created")
	return sess.URL, nil
}

// CreatePortalSession creates a Customer Portal session for the customer on
// the user's latest subscription.
func (s *StripeService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	customerID, err := s.customerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", apperror.NotFound("stripe customer", userID)
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.appURL + "/web/app.html"),
	}
	params.Context = ctx
	sess, err := s.newPortal(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe billing portal session")
		return "", &apperror.UpstreamError{Service: "payment processor", Err: err}
	}
	return sess.URL, nil
}

func (s *StripeService) customerID(ctx context.Context, userID string) (string, error) {
	_, sub, err := s.subs.Status(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", nil
	}
	return sub.ExternalCustomerID, nil
}
