package subscription

import (
	"testing"
	"time"
)

func TestIsActiveAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active within period", Subscription{Status: StatusActive, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active past period end", Subscription{Status: StatusActive, CurrentPeriodEnd: now.Add(-time.Hour)}, false},
		{"active with no period end", Subscription{Status: StatusActive}, true},
		{"canceled", Subscription{Status: StatusCanceled, CurrentPeriodEnd: now.Add(time.Hour)}, false},
		{"expired", Subscription{Status: StatusExpired, CurrentPeriodEnd: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.IsActiveAt(now); got != tt.want {
				t.Fatalf("IsActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}
