package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ArchivedWindow is a closed hourly window as persisted at rollover.
type ArchivedWindow struct {
	Key              string    `json:"key"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	GlobalCalls      int64     `json:"global_calls"`
	GlobalLimit      int64     `json:"global_limit"`
	DistinctAccounts int64     `json:"distinct_accounts"`
}

// TenantWindowUsage is one tenant's spend inside one archived window.
type TenantWindowUsage struct {
	WindowKey   string    `json:"window_key"`
	WindowStart time.Time `json:"window_start"`
	Calls       int64     `json:"calls"`
}

// UsageSummaryRequest requests a tenant's aggregated usage.
// Tenant isolation: TenantID is required.
type UsageSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type UsageSummary struct {
	TenantID string `json:"tenant_id"`

	TotalCalls    int64 `json:"total_calls"`
	ActiveWindows int   `json:"active_windows"`

	PeakWindowKey   string `json:"peak_window_key,omitempty"`
	PeakWindowCalls int64  `json:"peak_window_calls"`

	QueuedCalls  int64 `json:"queued_calls"`
	DroppedCalls int64 `json:"dropped_calls"`
}

// AppUsageRequest requests the app-wide view across archived windows.
type AppUsageRequest struct {
	Range TimeRange `json:"range"`
}

type AppUsageSummary struct {
	TotalCalls      int64 `json:"total_calls"`
	WindowsArchived int   `json:"windows_archived"`
	WindowsAtLimit  int   `json:"windows_at_limit"`

	PeakWindowKey   string `json:"peak_window_key,omitempty"`
	PeakWindowCalls int64  `json:"peak_window_calls"`
}
