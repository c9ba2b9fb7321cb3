package syncer

import (
	"context"
	"fmt"
	"time"

	"fund_sheet_sync/internal/config"
	"fund_sheet_sync/internal/creds"
	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/retry"
	"fund_sheet_sync/internal/sheets"

	"github.com/rs/zerolog/log"
)

// headlineCodes is the fixed set of KPI codes mirrored onto the owning
// deal record after each sync, for fast dashboard display.
var headlineCodes = map[string]bool{
	"noi":       true,
	"revenue":   true,
	"occupancy": true,
	"irr":       true,
	"moic":      true,
}

// GridSource fetches the raw grid of a spreadsheet tab.
type GridSource interface {
	FetchGrid(ctx context.Context, accessToken, spreadsheetID, sheetName string) ([][]string, error)
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*creds.TokenBundle, error)
}

// TokenWriter persists a refreshed credential bundle on a connection.
type TokenWriter interface {
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
}

// KpiWriter persists resolved values and derived deal fields.
type KpiWriter interface {
	UpsertDataPoint(ctx context.Context, dp *model.KpiDataPoint) error
	UpdateDealHeadlines(ctx context.Context, dealID string, headlines map[string]float64) error
}

// Result is what one completed sync reports back to the scheduler.
type Result struct {
	RowCount int
	KpiCount int
}

// Executor runs one connection's sync end to end: credentials, grid
// fetch, per-entry value resolution, KPI upsert, headline update.
type Executor struct {
	source     GridSource
	refresher  TokenRefresher
	tokens     TokenWriter
	kpis       KpiWriter
	strategies []Strategy
	resilience config.ResilienceConfig
}

func NewExecutor(source GridSource, refresher TokenRefresher, tokens TokenWriter, kpis KpiWriter) *Executor {
	return &Executor{
		source:     source,
		refresher:  refresher,
		tokens:     tokens,
		kpis:       kpis,
		strategies: defaultStrategies(),
		resilience: config.DefaultResilienceConfig,
	}
}

// Run syncs one connection. Per-entry misses and per-entry persistence
// failures are logged and skipped; only credential and source failures
// abort the run. The caller owns the surrounding status transitions.
func (e *Executor) Run(ctx context.Context, conn *model.Connection) (*Result, error) {
	if creds.Expired(conn.TokenExpiresAt) {
		if err := e.refreshCredentials(ctx, conn); err != nil {
			return nil, err
		}
	}

	grid, err := e.fetchGrid(ctx, conn)
	if err != nil {
		return nil, err
	}

	headerRows := LocateHeaderRows(grid)
	now := time.Now().UTC()
	periodDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dealID := conn.DealID
	if dealID == "" {
		// fund-level placeholder when the connection has no owning deal
		dealID = "fund:" + conn.FundID
	}

	kpiCount := 0
	headlines := make(map[string]float64)
	for _, entry := range conn.Mapping {
		value, ok := e.resolve(grid, headerRows, entry.Source)
		if !ok {
			log.Debug().
				Str("connection_id", conn.ID).
				Str("source", entry.Source).
				Msg("No value found for mapping entry, skipping")
			continue
		}

		dataType := entry.DataType
		if dataType == "" {
			dataType = "actual"
		}
		dp := &model.KpiDataPoint{
			DealID:     dealID,
			KpiCode:    entry.KpiCode,
			PeriodType: "monthly",
			PeriodDate: periodDate,
			DataType:   dataType,
			Value:      value,
			Source:     "spreadsheet",
			SourceRef:  conn.ID,
		}
		if err := e.kpis.UpsertDataPoint(ctx, dp); err != nil {
			log.Error().Err(err).
				Str("connection_id", conn.ID).
				Str("kpi_code", entry.KpiCode).
				Msg("Failed to upsert data point, continuing with remaining entries")
			continue
		}
		kpiCount++
		if headlineCodes[entry.KpiCode] {
			headlines[entry.KpiCode] = value
		}
	}

	// Best-effort: a headline failure never fails the sync.
	if conn.DealID != "" && len(headlines) > 0 {
		if err := e.kpis.UpdateDealHeadlines(ctx, conn.DealID, headlines); err != nil {
			log.Warn().Err(err).
				Str("connection_id", conn.ID).
				Str("deal_id", conn.DealID).
				Msg("Failed to update deal headline fields")
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Int("rows", len(grid)).
		Int("kpis", kpiCount).
		Int("mapped", len(conn.Mapping)).
		Msg("Sync complete")

	return &Result{RowCount: len(grid), KpiCount: kpiCount}, nil
}

func (e *Executor) resolve(grid [][]string, headerRows []int, source string) (float64, bool) {
	for _, s := range e.strategies {
		if v, ok := s.Resolve(grid, headerRows, source); ok {
			return v, true
		}
	}
	return 0, false
}

// refreshCredentials swaps the connection's access token using its
// refresh token, persisting the new bundle before any of it is used.
func (e *Executor) refreshCredentials(ctx context.Context, conn *model.Connection) error {
	bundle, err := retry.WithRetry(ctx, e.resilience.TokenRefresh, func(ctx context.Context) (*creds.TokenBundle, error) {
		return e.refresher.Refresh(ctx, conn.RefreshToken)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredential, err)
	}

	if err := e.tokens.UpdateTokens(ctx, conn.ID, bundle.AccessToken, bundle.RefreshToken, &bundle.ExpiresAt); err != nil {
		return fmt.Errorf("%w: persisting refreshed tokens: %v", ErrCredential, err)
	}

	conn.AccessToken = bundle.AccessToken
	conn.RefreshToken = bundle.RefreshToken
	conn.TokenExpiresAt = &bundle.ExpiresAt

	log.Debug().Str("connection_id", conn.ID).Msg("Refreshed access token")
	return nil
}

// fetchGrid reads the configured tab with retries. An auth rejection
// triggers one credential refresh followed by a second read; everything
// else maps to ErrSourceUnavailable.
func (e *Executor) fetchGrid(ctx context.Context, conn *model.Connection) ([][]string, error) {
	fetch := func(ctx context.Context) ([][]string, error) {
		g, err := e.source.FetchGrid(ctx, conn.AccessToken, conn.SpreadsheetID, conn.SheetName)
		if err != nil && (sheets.IsAuthError(err) || sheets.IsPermanentError(err)) {
			return nil, retry.Permanent(err)
		}
		return g, err
	}

	grid, err := retry.WithRetry(ctx, e.resilience.GridFetch, fetch)
	if err == nil {
		return grid, nil
	}

	if sheets.IsAuthError(err) {
		if refreshErr := e.refreshCredentials(ctx, conn); refreshErr != nil {
			return nil, refreshErr
		}
		grid, err = retry.WithRetry(ctx, e.resilience.GridFetch, fetch)
		if err == nil {
			return grid, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}
