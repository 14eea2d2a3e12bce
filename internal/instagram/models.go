// Package instagram holds the connected account directory and the Meta Graph
// API client used for replies and messaging.
package instagram

import "time"

// Account is a connected Instagram business account.
type Account struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	Username             string     `json:"username"`
	AccessToken          string     `json:"-"`
	IsActive             bool       `json:"is_active"`
	MetaRateLimitedUntil *time.Time `json:"meta_rate_limited_until,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// MetaRateLimited reports whether Meta itself has throttled this account,
// which is independent of the window budget on our side.
func (a Account) MetaRateLimited(now time.Time) bool {
	return a.MetaRateLimitedUntil != nil && now.Before(*a.MetaRateLimitedUntil)
}
