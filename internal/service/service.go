package service

import (
	"context"
	"errors"
	"fmt"

	"fund_sheet_sync/internal/creds"
	"fund_sheet_sync/internal/detect"
	"fund_sheet_sync/internal/mapping"
	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/sheets"

	"github.com/rs/zerolog/log"
)

// SheetSource is the slice of the spreadsheet client the wizard needs.
type SheetSource interface {
	ListSheetNames(ctx context.Context, accessToken, spreadsheetID string) ([]sheets.SheetInfo, error)
	FetchGrid(ctx context.Context, accessToken, spreadsheetID, sheetName string) ([][]string, error)
}

// ConnectionCreator persists a newly configured connection.
type ConnectionCreator interface {
	Create(ctx context.Context, conn *model.Connection) error
}

// Catalogue serves the known KPI definitions.
type Catalogue interface {
	ListDefinitions(ctx context.Context) ([]mapping.KpiDefinition, error)
}

// MappingInput is one row of the wizard's mapping step. Either KpiCode
// references an existing catalogue entry, or CustomName declares a new
// metric whose code is synthesized from the name.
type MappingInput struct {
	Source     string
	KpiCode    string
	CustomName string
	DataType   string
}

// ConnectionConfig is everything the wizard collects before saving.
type ConnectionConfig struct {
	FundID        string
	DealID        string
	SpreadsheetID string
	SheetName     string
	Mapping       []MappingInput
	Frequency     model.Frequency
	Enabled       bool
	Tokens        *creds.TokenBundle
}

// Service is the surface exposed to the HTTP layer for the connect
// wizard: sheet preview, mapping suggestions, and connection creation.
// The scheduler does not go through it.
type Service struct {
	source    SheetSource
	conns     ConnectionCreator
	catalogue Catalogue
}

func NewService(source SheetSource, conns ConnectionCreator, catalogue Catalogue) *Service {
	return &Service{source: source, conns: conns, catalogue: catalogue}
}

// ListTabs returns the spreadsheet's tabs for the sheet-picking step.
func (s *Service) ListTabs(ctx context.Context, accessToken, spreadsheetID string) ([]sheets.SheetInfo, error) {
	return s.source.ListSheetNames(ctx, accessToken, spreadsheetID)
}

// PreviewSheet fetches a tab and runs layout detection over it.
func (s *Service) PreviewSheet(ctx context.Context, accessToken, spreadsheetID, sheetName string) (*detect.Preview, error) {
	grid, err := s.source.FetchGrid(ctx, accessToken, spreadsheetID, sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch grid for preview: %w", err)
	}

	preview := detect.BuildPreview(grid)
	log.Debug().
		Str("spreadsheet_id", spreadsheetID).
		Str("sheet", sheetName).
		Str("format", string(preview.Format)).
		Int("sections", len(preview.Sections)).
		Msg("Built sheet preview")
	return &preview, nil
}

// SuggestMapping matches a preview's metrics against the KPI catalogue
// to pre-populate the mapping step. Suggestions are advisory; the user
// confirms the final mapping.
func (s *Service) SuggestMapping(ctx context.Context, preview *detect.Preview) ([]mapping.Suggestion, error) {
	defs, err := s.catalogue.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load kpi catalogue: %w", err)
	}
	return mapping.Suggest(preview.FlattenedRows, defs), nil
}

// SaveConnection validates the wizard's output and persists the new
// connection. Custom metric names are resolved to synthesized codes
// here, so everything downstream only ever sees KPI codes.
func (s *Service) SaveConnection(ctx context.Context, cfg ConnectionConfig) (*model.Connection, error) {
	if cfg.FundID == "" {
		return nil, errors.New("fund id is required")
	}
	if cfg.SpreadsheetID == "" || cfg.SheetName == "" {
		return nil, errors.New("spreadsheet id and sheet name are required")
	}
	if cfg.Tokens == nil || cfg.Tokens.AccessToken == "" || cfg.Tokens.RefreshToken == "" {
		return nil, errors.New("credential exchange must complete before saving")
	}
	if len(cfg.Mapping) == 0 {
		return nil, errors.New("at least one mapping entry is required")
	}

	entries := make([]mapping.Entry, 0, len(cfg.Mapping))
	for _, in := range cfg.Mapping {
		code := in.KpiCode
		if code == "" {
			if in.CustomName == "" {
				return nil, fmt.Errorf("mapping entry %q has neither a kpi code nor a custom name", in.Source)
			}
			code = mapping.SynthesizeCode(in.CustomName)
		}
		dataType := in.DataType
		if dataType == "" {
			dataType = "actual"
		}
		entries = append(entries, mapping.Entry{
			Source:   in.Source,
			KpiCode:  code,
			DataType: dataType,
		})
	}

	expiresAt := cfg.Tokens.ExpiresAt
	conn := &model.Connection{
		FundID:         cfg.FundID,
		DealID:         cfg.DealID,
		SpreadsheetID:  cfg.SpreadsheetID,
		SheetName:      cfg.SheetName,
		Mapping:        entries,
		Frequency:      cfg.Frequency,
		Enabled:        cfg.Enabled,
		AccessToken:    cfg.Tokens.AccessToken,
		RefreshToken:   cfg.Tokens.RefreshToken,
		TokenExpiresAt: &expiresAt,
		AccountEmail:   cfg.Tokens.AccountEmail,
	}
	if err := s.conns.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("fund_id", conn.FundID).
		Str("frequency", string(conn.Frequency)).
		Int("mapped_columns", len(entries)).
		Msg("Saved spreadsheet connection")
	return conn, nil
}
