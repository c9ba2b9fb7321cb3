package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fund_sheet_sync/internal/mapping"
	"fund_sheet_sync/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KpiStore persists KPI data points and serves the KPI catalogue.
type KpiStore struct {
	pool *pgxpool.Pool
}

func NewKpiStore(pool *pgxpool.Pool) *KpiStore {
	return &KpiStore{pool: pool}
}

// UpsertDataPoint writes one data point. The five-column key makes a
// repeat sync for the same period an overwrite, never a duplicate.
func (s *KpiStore) UpsertDataPoint(ctx context.Context, dp *model.KpiDataPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kpi_data_points (
			deal_id, kpi_code, period_type, period_date, data_type,
			value, source, source_ref, imported_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (deal_id, kpi_code, period_type, period_date, data_type)
		DO UPDATE SET
			value = EXCLUDED.value,
			source = EXCLUDED.source,
			source_ref = EXCLUDED.source_ref,
			updated_at = EXCLUDED.updated_at`,
		dp.DealID, dp.KpiCode, dp.PeriodType, dp.PeriodDate, dp.DataType,
		dp.Value, dp.Source, dp.SourceRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert data point: %w", err)
	}
	return nil
}

// ListDefinitions returns the KPI catalogue used for mapping
// suggestions.
func (s *KpiStore) ListDefinitions(ctx context.Context) ([]mapping.KpiDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name FROM kpi_definitions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi definitions: %w", err)
	}
	defer rows.Close()

	var defs []mapping.KpiDefinition
	for rows.Next() {
		var def mapping.KpiDefinition
		if err := rows.Scan(&def.Code, &def.Name); err != nil {
			return nil, fmt.Errorf("failed to scan kpi definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// UpdateDealHeadlines mirrors a small set of headline KPI values onto
// the owning deal record for fast display. Values merge into the
// existing headline document.
func (s *KpiStore) UpdateDealHeadlines(ctx context.Context, dealID string, headlines map[string]float64) error {
	if len(headlines) == 0 {
		return nil
	}
	doc, err := json.Marshal(headlines)
	if err != nil {
		return fmt.Errorf("failed to marshal headlines: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE deals
		SET headline_metrics = COALESCE(headline_metrics, '{}'::jsonb) || $2::jsonb,
		    updated_at = $3
		WHERE id = $1`,
		dealID, doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update deal headlines: %w", err)
	}
	return nil
}
