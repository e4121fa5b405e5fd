package model

import "strings"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanCreator Plan = "creator"
	PlanAgency  Plan = "agency"
)

// UnlimitedCredits is the balance sentinel for unlimited tiers. A balance at or
// above it satisfies every debit and is never decremented.
const UnlimitedCredits int64 = 999_999

// DefaultCanceledFloor is the balance a profile keeps after its subscription is deleted.
const DefaultCanceledFloor int64 = 10

var allotments = map[Plan]int64{
	PlanStarter: 200,
	PlanCreator: 1000,
	PlanAgency:  UnlimitedCredits,
}

// ParsePlan returns the plan named by s and whether it is a known plan.
func ParsePlan(s string) (Plan, bool) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanFree, PlanStarter, PlanCreator, PlanAgency:
		return p, true
	default:
		return PlanFree, false
	}
}

// Paid reports whether the plan requires an active subscription.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanCreator || p == PlanAgency
}

// Unlimited reports whether the plan bypasses balance checks.
func (p Plan) Unlimited() bool {
	return p == PlanAgency
}

// MonthlyAllotment is the balance a refill sets for the plan. Free has no allotment.
func (p Plan) MonthlyAllotment() (int64, bool) {
	n, ok := allotments[p]
	return n, ok
}

// PaidPlans lists the plans that can be purchased through checkout.
func PaidPlans() []Plan {
	return []Plan{PlanStarter, PlanCreator, PlanAgency}
}
