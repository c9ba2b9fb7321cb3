package config

import (
	"time"

	"fund_sheet_sync/internal/retry"
)

// ResilienceConfig bundles the retry policies for every outbound call a
// sync makes. All timeouts stay far below the 5 minute minimum sync
// frequency so a stuck call can never stall the scheduler into the
// next slot.
type ResilienceConfig struct {
	GridFetch    retry.Config
	TokenRefresh retry.Config
	Notify       retry.Config
}

var DefaultResilienceConfig = ResilienceConfig{
	GridFetch: retry.Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    20 * time.Second,
	},
	TokenRefresh: retry.Config{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    15 * time.Second,
	},
	Notify: retry.Config{
		MaxRetries: 1,
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
		Timeout:    10 * time.Second,
	},
}
