package memory

import (
	"context"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/google/uuid"
)

type profileRepo struct{ s *Store }

func (r profileRepo) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	defer r.s.lock()()
	p, ok := r.s.data().profiles[userID]
	if !ok {
		return nil, apperror.NotFound("profile", userID)
	}
	return &p, nil
}

func (r profileRepo) UpdatePlan(_ context.Context, userID string, plan model.Plan) error {
	defer r.s.lock()()
	p, ok := r.s.data().profiles[userID]
	if !ok {
		return apperror.NotFound("profile", userID)
	}
	p.Plan = plan
	p.UpdatedAt = r.s.now()
	r.s.data().profiles[userID] = p
	return nil
}

func (r profileRepo) SetCachedCredits(_ context.Context, userID string, credits int64) error {
	defer r.s.lock()()
	p, ok := r.s.data().profiles[userID]
	if !ok {
		return apperror.NotFound("profile", userID)
	}
	p.CreditsRemaining = credits
	p.UpdatedAt = r.s.now()
	r.s.data().profiles[userID] = p
	return nil
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) GetByExternalID(_ context.Context, externalID string) (*model.Subscription, error) {
	defer r.s.lock()()
	row, ok := r.s.data().subscriptions[externalID]
	if !ok {
		return nil, apperror.NotFound("subscription", externalID)
	}
	sub := row.sub
	return &sub, nil
}

func (r subscriptionRepo) GetLatestForUser(_ context.Context, userID string) (*model.Subscription, error) {
	defer r.s.lock()()
	var latest *subscriptionRow
	for _, row := range r.s.data().subscriptions {
		if row.sub.UserID != userID {
			continue
		}
		if latest == nil || preferred(row, *latest) {
			row := row
			latest = &row
		}
	}
	if latest == nil {
		return nil, apperror.NotFound("subscription for user", userID)
	}
	sub := latest.sub
	return &sub, nil
}

// preferred orders live rows before others, then newer rows first.
func preferred(a, b subscriptionRow) bool {
	if al, bl := a.sub.Status.AllowsSpend(), b.sub.Status.AllowsSpend(); al != bl {
		return al
	}
	return a.seq > b.seq
}

func (r subscriptionRepo) HasOtherLive(_ context.Context, userID, externalID string) (bool, error) {
	defer r.s.lock()()
	for id, row := range r.s.data().subscriptions {
		if row.sub.UserID == userID && id != externalID && row.sub.Status != model.StatusCanceled {
			return true, nil
		}
	}
	return false, nil
}

func (r subscriptionRepo) Insert(_ context.Context, sub *model.Subscription) (bool, error) {
	defer r.s.lock()()
	st := r.s.data()
	if _, exists := st.subscriptions[sub.ExternalSubscriptionID]; exists {
		return false, nil
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := r.s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	st.subscriptions[sub.ExternalSubscriptionID] = subscriptionRow{sub: *sub, seq: st.next()}
	return true, nil
}

func (r subscriptionRepo) UpdateCheckoutDetails(_ context.Context, externalID, customerID string, plan model.Plan) error {
	defer r.s.lock()()
	st := r.s.data()
	row, ok := st.subscriptions[externalID]
	if !ok {
		return apperror.NotFound("subscription", externalID)
	}
	row.sub.Plan = plan
	if customerID != "" {
		row.sub.ExternalCustomerID = customerID
	}
	row.sub.UpdatedAt = r.s.now()
	st.subscriptions[externalID] = row
	return nil
}

func (r subscriptionRepo) UpdateStatus(_ context.Context, externalID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	defer r.s.lock()()
	st := r.s.data()
	row, ok := st.subscriptions[externalID]
	if !ok {
		return apperror.NotFound("subscription", externalID)
	}
	row.sub.Status = status
	if periodEnd != nil {
		t := *periodEnd
		row.sub.CurrentPeriodEnd = &t
	}
	row.sub.UpdatedAt = r.s.now()
	st.subscriptions[externalID] = row
	return nil
}

type ledgerRepo struct{ s *Store }

// LockUser only checks existence; the store lock already serializes transactions.
func (r ledgerRepo) LockUser(_ context.Context, userID string) error {
	defer r.s.lock()()
	if _, ok := r.s.data().profiles[userID]; !ok {
		return apperror.NotFound("profile", userID)
	}
	return nil
}

func (r ledgerRepo) Sum(_ context.Context, userID string) (int64, error) {
	defer r.s.lock()()
	var sum int64
	for _, e := range r.s.data().ledger {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (r ledgerRepo) Append(_ context.Context, entry *model.CreditLedgerEntry) error {
	defer r.s.lock()()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = r.s.now()
	r.s.data().ledger = append(r.s.data().ledger, *entry)
	return nil
}

func (r ledgerRepo) ListRecent(_ context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	defer r.s.lock()()
	entries := []model.CreditLedgerEntry{}
	ledger := r.s.data().ledger
	for i := len(ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		if ledger[i].UserID == userID {
			entries = append(entries, ledger[i])
		}
	}
	return entries, nil
}

type generationRepo struct{ s *Store }

func (r generationRepo) Create(_ context.Context, g *model.Generation) error {
	defer r.s.lock()()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = r.s.now()
	r.s.data().generations = append(r.s.data().generations, *g)
	return nil
}

func (r generationRepo) CountForUser(_ context.Context, userID string) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, g := range r.s.data().generations {
		if g.UserID == userID {
			n++
		}
	}
	return n, nil
}

type affiliateRepo struct{ s *Store }

func (r affiliateRepo) LatestReferral(_ context.Context, referredUserID string) (*model.AffiliateReferral, error) {
	defer r.s.lock()()
	refs := r.s.data().referrals
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].ReferredUserID == referredUserID {
			ref := refs[i]
			return &ref, nil
		}
	}
	return nil, apperror.NotFound("affiliate referral", referredUserID)
}

func (r affiliateRepo) GetByCode(_ context.Context, code string) (*model.Affiliate, error) {
	defer r.s.lock()()
	a, ok := r.s.data().affiliates[code]
	if !ok {
		return nil, apperror.NotFound("affiliate", code)
	}
	return &a, nil
}

func (r affiliateRepo) AddEarnings(_ context.Context, code string, cents int64) error {
	defer r.s.lock()()
	a, ok := r.s.data().affiliates[code]
	if !ok {
		return apperror.NotFound("affiliate", code)
	}
	a.EarningsCents += cents
	r.s.data().affiliates[code] = a
	return nil
}

func (r affiliateRepo) HasPayout(_ context.Context, code, referredUserID, reason string) (bool, error) {
	defer r.s.lock()()
	for _, p := range r.s.data().payouts {
		if p.AffiliateCode == code && p.ReferredUserID == referredUserID && p.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (r affiliateRepo) RecordPayout(_ context.Context, ev *model.AffiliatePayoutEvent) error {
	defer r.s.lock()()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = r.s.now()
	r.s.data().payouts = append(r.s.data().payouts, *ev)
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) IsProcessed(_ context.Context, eventID string) (bool, error) {
	defer r.s.lock()()
	_, ok := r.s.data().events[eventID]
	return ok, nil
}

func (r eventRepo) MarkProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	defer r.s.lock()()
	if _, ok := r.s.data().events[eventID]; ok {
		return false, nil
	}
	r.s.data().events[eventID] = model.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: r.s.now()}
	return true, nil
}
