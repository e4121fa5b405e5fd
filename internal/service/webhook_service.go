package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/metrics"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types routed by the gateway.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventInvoicePaid          = "invoice.payment_succeeded"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

const defaultWebhookTolerance = 5 * time.Minute

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// ActivitySink receives user-facing activity records. Delivery is best-effort.
type ActivitySink interface {
	PublishActivity(ctx context.Context, a model.Activity) error
}

// WebhookResult describes what the gateway did with a delivery.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// WebhookService verifies, deduplicates and routes Stripe notifications. The
// processed-event claim and the event's effects commit in one transaction, so
// a failed handler leaves the event retryable and a committed one is never
// applied twice.
type WebhookService struct {
	store      repository.Store
	subs       *SubscriptionService
	secret     string
	tolerance  time.Duration
	activities ActivitySink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewWebhookService creates a WebhookService with a scoped logger. activities may be nil.
func NewWebhookService(store repository.Store, subs *SubscriptionService, secret string, tolerance time.Duration, activities ActivitySink, m *metrics.Metrics, logger zerolog.Logger) *WebhookService {
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	return &WebhookService{
		store:      store,
		subs:       subs,
		secret:     secret,
		tolerance:  tolerance,
		activities: activities,
		metrics:    m,
		logger:     logger.With().Str("service", "WebhookService").Logger(),
	}
}

// Handle processes one delivery. Signature failures return an
// AuthenticationError and malformed events a ValidationError; both leave no
// trace. Any other error means the effects were rolled back and the sender
// should retry.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.metrics.Webhook("unknown", outcomeRejected)
		s.logger.Warn().Err(err).Msg("Signature verification failed for Stripe webhook")
		return WebhookResult{}, &apperror.AuthenticationError{Reason: "webhook signature", Err: err}
	}

	res := WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if event.ID == "" || event.Type == "" || event.Data == nil {
		s.metrics.Webhook("unknown", outcomeRejected)
		return res, apperror.Invalid("event", "missing id, type or data")
	}
	log := s.logger.With().Str("event_id", event.ID).Str("event_type", res.EventType).Logger()
	log.Info().Msg("Stripe webhook received")

	done, err := s.store.Events().IsProcessed(ctx, event.ID)
	if err != nil {
		s.metrics.Webhook(res.EventType, outcomeFailed)
		log.Error().Err(err).Msg("Failed to check processed events")
		return res, err
	}
	if done {
		res.Duplicate = true
		s.metrics.Webhook(res.EventType, outcomeDuplicate)
		log.Info().Msg("Duplicate Stripe event; already processed")
		return res, nil
	}

	var pending []model.Activity
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		pending = pending[:0]
		claimed, err := tx.Events().MarkProcessed(ctx, event.ID, res.EventType)
		if err != nil {
			return err
		}
		if !claimed {
			res.Duplicate = true
			return nil
		}
		subs := s.subs.WithStore(tx, func(a model.Activity) { pending = append(pending, a) })
		ignored, err := route(ctx, subs, event)
		res.Ignored = ignored
		return err
	})
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, apperror.ErrValidation) {
			outcome = outcomeRejected
		}
		s.metrics.Webhook(res.EventType, outcome)
		log.Error().Err(err).Msg("Failed to process Stripe webhook")
		return res, err
	}

	switch {
	case res.Duplicate:
		s.metrics.Webhook(res.EventType, outcomeDuplicate)
		log.Info().Msg("Duplicate Stripe event claimed concurrently")
	case res.Ignored:
		s.metrics.Webhook(res.EventType, outcomeIgnored)
		log.Info().Msg("Unhandled Stripe webhook event acknowledged")
	default:
		s.metrics.Webhook(res.EventType, outcomeProcessed)
	}

	s.publish(ctx, pending)
	return res, nil
}

func (s *WebhookService) publish(ctx context.Context, activities []model.Activity) {
	if s.activities == nil {
		return
	}
	for _, a := range activities {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		if err := s.activities.PublishActivity(ctx, a); err != nil {
			s.logger.Warn().Err(err).Str("user_id", a.UserID).Str("activity_type", a.Type).Msg("Failed to publish activity")
		}
	}
}

// route applies a verified event. It reports ignored=true for event types
// this service does not handle.
func route(ctx context.Context, subs *SubscriptionService, event stripe.Event) (bool, error) {
	switch string(event.Type) {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return false, apperror.Invalid("data.object", "invalid checkout.session payload")
		}
		plan, _ := model.ParsePlan(cs.Metadata["plan"])
		in := CheckoutCompleted{
			UserID:      cs.Metadata["user_id"],
			Plan:        plan,
			AmountTotal: cs.AmountTotal,
		}
		if cs.Subscription != nil {
			in.SubscriptionID = cs.Subscription.ID
		}
		if cs.Customer != nil {
			in.CustomerID = cs.Customer.ID
		}
		return false, subs.CheckoutCompleted(ctx, in)

	case EventInvoicePaid, EventInvoicePaymentFailed:
		subID, err := invoiceSubscriptionID(event.Data.Raw)
		if err != nil {
			return false, err
		}
		if subID == "" {
			subs.logger.Info().Str("event_id", event.ID).Msg("Invoice has no subscription; skipping")
			return false, nil
		}
		if string(event.Type) == EventInvoicePaid {
			return false, subs.PaymentSucceeded(ctx, subID)
		}
		return false, subs.PaymentFailed(ctx, subID)

	case EventSubscriptionUpdated:
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return false, apperror.Invalid("data.object", "invalid subscription payload")
		}
		return false, subs.SubscriptionUpdated(ctx, ss.ID, model.NormalizeStatus(string(ss.Status)), periodEnd(&ss))

	case EventSubscriptionDeleted:
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return false, apperror.Invalid("data.object", "invalid subscription payload")
		}
		return false, subs.SubscriptionDeleted(ctx, ss.ID)

	default:
		return true, nil
	}
}

func periodEnd(ss *stripe.Subscription) *time.Time {
	if ss.Items == nil {
		return nil
	}
	for _, item := range ss.Items.Data {
		if item != nil && item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			return &t
		}
	}
	return nil
}

// invoiceSubscriptionID finds the subscription an invoice belongs to. Newer API
// versions carry it under parent.subscription_details or on the line items;
// older ones as a top-level "subscription" string.
func invoiceSubscriptionID(raw json.RawMessage) (string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", apperror.Invalid("data.object", "invalid invoice payload")
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		if id := inv.Parent.SubscriptionDetails.Subscription.ID; id != "" {
			return id, nil
		}
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Subscription != nil && line.Subscription.ID != "" {
				return line.Subscription.ID, nil
			}
		}
	}
	var legacy struct {
		Subscription json.RawMessage `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return "", fmt.Errorf("decode invoice subscription: %w", err)
	}
	if len(legacy.Subscription) == 0 || string(legacy.Subscription) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(legacy.Subscription, &id); err == nil {
		return id, nil
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(legacy.Subscription, &expanded); err != nil {
		return "", apperror.Invalid("data.object.subscription", "unrecognized subscription reference")
	}
	return expanded.ID, nil
}
