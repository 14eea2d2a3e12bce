package subscription

import "time"

// Subscription is a tenant's billing record for one product line.
//
// This core only ever reads subscriptions; creation, renewal and
// cancellation belong to the billing service.
type Subscription struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// ProductLine separates the product surfaces (e.g. "instagram_automation",
	// "web_chatbot"). Tier resolution only considers the requested line.
	ProductLine string `json:"product_line" db:"product_line"`

	Plan   Plan   `json:"plan" db:"plan"`
	Status Status `json:"status" db:"status"`

	CurrentPeriodEnd time.Time `json:"current_period_end" db:"current_period_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// ProductLineInstagram is the product line this admission core budgets for.
const ProductLineInstagram = "instagram_automation"

// IsActiveAt reports whether the subscription grants access at the given instant.
func (s Subscription) IsActiveAt(at time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.CurrentPeriodEnd.IsZero() {
		return true
	}
	return at.Before(s.CurrentPeriodEnd)
}
