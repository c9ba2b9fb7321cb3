package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fund_sheet_sync/internal/config"
	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/retry"

	"github.com/rs/zerolog/log"
)

// Client pushes operator alerts to an ntfy topic when a connection's
// sync fails. Disabled by default; delivery is best-effort and never
// blocks or fails a tick.
type Client struct {
	httpClient *http.Client
	baseURL    string
	topic      string
	enabled    bool
	resilience retry.Config
}

func NewClient(baseURL, topic string, enabled bool) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		topic:      topic,
		enabled:    enabled,
		resilience: config.DefaultResilienceConfig.Notify,
	}
}

// NotifySyncFailure publishes a short alert for a failed connection.
// The message is the tenant-facing summary; tokens and raw provider
// errors never pass through here.
func (c *Client) NotifySyncFailure(ctx context.Context, conn *model.Connection, message string) {
	if !c.enabled {
		return
	}

	body := fmt.Sprintf("Sync failed for fund %s (connection %s): %s", conn.FundID, conn.ID, message)
	url := fmt.Sprintf("%s/%s", c.baseURL, c.topic)

	_, err := retry.WithRetry(ctx, c.resilience, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Title", "Spreadsheet sync failure")
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "warning")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return struct{}{}, fmt.Errorf("ntfy returned status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to deliver sync failure notification")
	} else {
		log.Debug().Str("connection_id", conn.ID).Msg("Sent sync failure notification")
	}
}
