// Package memory provides an in-process repository.Store used by tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"vision2viral/internal/model"
	"vision2viral/internal/repository"
)

type subscriptionRow struct {
	sub model.Subscription
	seq int64 // insertion order, stands in for created_at
}

type state struct {
	profiles      map[string]model.Profile
	subscriptions map[string]subscriptionRow
	ledger        []model.CreditLedgerEntry
	generations   []model.Generation
	affiliates    map[string]model.Affiliate
	referrals     []model.AffiliateReferral
	payouts       []model.AffiliatePayoutEvent
	events        map[string]model.ProcessedEvent
	seq           int64
}

func newState() *state {
	return &state{
		profiles:      make(map[string]model.Profile),
		subscriptions: make(map[string]subscriptionRow),
		affiliates:    make(map[string]model.Affiliate),
		events:        make(map[string]model.ProcessedEvent),
	}
}

func (st *state) clone() *state {
	c := &state{
		profiles:      make(map[string]model.Profile, len(st.profiles)),
		subscriptions: make(map[string]subscriptionRow, len(st.subscriptions)),
		ledger:        append([]model.CreditLedgerEntry(nil), st.ledger...),
		generations:   append([]model.Generation(nil), st.generations...),
		affiliates:    make(map[string]model.Affiliate, len(st.affiliates)),
		referrals:     append([]model.AffiliateReferral(nil), st.referrals...),
		payouts:       append([]model.AffiliatePayoutEvent(nil), st.payouts...),
		events:        make(map[string]model.ProcessedEvent, len(st.events)),
		seq:           st.seq,
	}
	for k, v := range st.profiles {
		c.profiles[k] = v
	}
	for k, v := range st.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range st.affiliates {
		c.affiliates[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	return c
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// Store is an in-memory repository.Store. Transactions hold a single store-wide
// lock, so they are fully serialized, and roll back by restoring a snapshot.
type Store struct {
	mu   *sync.Mutex
	st   **state
	inTx bool
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, st: &st, now: time.Now}
}

// lock acquires the store lock unless the caller already holds it inside InTx.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) data() *state { return *s.st }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data().clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Profiles() repository.ProfileRepository           { return profileRepo{s} }
func (s *Store) Subscriptions() repository.SubscriptionRepository { return subscriptionRepo{s} }
func (s *Store) Ledger() repository.LedgerRepository              { return ledgerRepo{s} }
func (s *Store) Generations() repository.GenerationRepository     { return generationRepo{s} }
func (s *Store) Affiliates() repository.AffiliateRepository       { return affiliateRepo{s} }
func (s *Store) Events() repository.EventRepository               { return eventRepo{s} }

// PutProfile inserts or replaces a profile. Seeding helper.
func (s *Store) PutProfile(p model.Profile) {
	defer s.lock()()
	if p.Role == "" {
		p.Role = model.RoleUser
	}
	if p.Plan == "" {
		p.Plan = model.PlanFree
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = s.now()
	s.data().profiles[p.UserID] = p
}

// PutAffiliate inserts or replaces an affiliate keyed by referral code.
func (s *Store) PutAffiliate(a model.Affiliate) {
	defer s.lock()()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.data().affiliates[a.ReferralCode] = a
}

// PutReferral records that code referred the given user.
func (s *Store) PutReferral(r model.AffiliateReferral) {
	defer s.lock()()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.data().referrals = append(s.data().referrals, r)
}

// Payouts returns a copy of all recorded payout events.
func (s *Store) Payouts() []model.AffiliatePayoutEvent {
	defer s.lock()()
	return append([]model.AffiliatePayoutEvent(nil), s.data().payouts...)
}

// AllGenerations returns a copy of all stored generations.
func (s *Store) AllGenerations() []model.Generation {
	defer s.lock()()
	return append([]model.Generation(nil), s.data().generations...)
}

// Entries returns a copy of a user's ledger entries in insertion order.
func (s *Store) Entries(userID string) []model.CreditLedgerEntry {
	defer s.lock()()
	var out []model.CreditLedgerEntry
	for _, e := range s.data().ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}
