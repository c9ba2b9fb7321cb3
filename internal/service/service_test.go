package service

import (
	"context"
	"testing"
	"time"

	"fund_sheet_sync/internal/creds"
	"fund_sheet_sync/internal/detect"
	"fund_sheet_sync/internal/mapping"
	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/sheets"
)

type fakeSheetSource struct {
	tabs []sheets.SheetInfo
	grid [][]string
}

func (f *fakeSheetSource) ListSheetNames(ctx context.Context, accessToken, spreadsheetID string) ([]sheets.SheetInfo, error) {
	return f.tabs, nil
}

func (f *fakeSheetSource) FetchGrid(ctx context.Context, accessToken, spreadsheetID, sheetName string) ([][]string, error) {
	return f.grid, nil
}

type fakeCreator struct {
	created *model.Connection
}

func (f *fakeCreator) Create(ctx context.Context, conn *model.Connection) error {
	conn.ID = "conn-1"
	f.created = conn
	return nil
}

type fakeCatalogue struct {
	defs []mapping.KpiDefinition
}

func (f *fakeCatalogue) ListDefinitions(ctx context.Context) ([]mapping.KpiDefinition, error) {
	return f.defs, nil
}

func tokens() *creds.TokenBundle {
	return &creds.TokenBundle{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		AccountEmail: "cfo@example.com",
	}
}

func validConfig() ConnectionConfig {
	return ConnectionConfig{
		FundID:        "fund-1",
		SpreadsheetID: "sheet-abc",
		SheetName:     "Dashboard",
		Frequency:     model.FreqHourly,
		Enabled:       true,
		Tokens:        tokens(),
		Mapping: []MappingInput{
			{Source: "NOI", KpiCode: "noi"},
			{Source: "Same Store Sales", CustomName: "Same Store Sales"},
		},
	}
}

func newTestService(src *fakeSheetSource, creator *fakeCreator) *Service {
	catalogue := &fakeCatalogue{defs: []mapping.KpiDefinition{
		{Code: "noi", Name: "Net Operating Income"},
	}}
	return NewService(src, creator, catalogue)
}

func TestPreviewSheet(t *testing.T) {
	src := &fakeSheetSource{grid: [][]string{
		{"PORTFOLIO SUMMARY"},
		{"NOI", "$200,000"},
	}}
	svc := newTestService(src, &fakeCreator{})

	preview, err := svc.PreviewSheet(context.Background(), "access", "sheet-abc", "Dashboard")
	if err != nil {
		t.Fatalf("PreviewSheet failed: %v", err)
	}
	if preview.Format != detect.FormatKeyValue {
		t.Errorf("Expected key-value format, got %s", preview.Format)
	}
	if len(preview.FlattenedRows) != 1 {
		t.Errorf("Expected 1 flattened metric, got %d", len(preview.FlattenedRows))
	}
}

func TestSuggestMapping(t *testing.T) {
	svc := newTestService(&fakeSheetSource{}, &fakeCreator{})
	preview := &detect.Preview{FlattenedRows: []detect.Metric{{Key: "NOI"}, {Key: "Weather"}}}

	suggestions, err := svc.SuggestMapping(context.Background(), preview)
	if err != nil {
		t.Fatalf("SuggestMapping failed: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].KpiCode != "noi" {
		t.Errorf("Unexpected suggestions: %+v", suggestions)
	}
}

func TestSaveConnection(t *testing.T) {
	creator := &fakeCreator{}
	svc := newTestService(&fakeSheetSource{}, creator)

	conn, err := svc.SaveConnection(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("SaveConnection failed: %v", err)
	}
	if conn.ID == "" {
		t.Error("Expected an assigned connection id")
	}
	if len(conn.Mapping) != 2 {
		t.Fatalf("Expected 2 mapping entries, got %d", len(conn.Mapping))
	}
	if conn.Mapping[0].KpiCode != "noi" || conn.Mapping[0].DataType != "actual" {
		t.Errorf("Unexpected first entry: %+v", conn.Mapping[0])
	}
	// Custom metric names become synthesized codes.
	if conn.Mapping[1].KpiCode != "same_store_sales" {
		t.Errorf("Expected synthesized code, got %q", conn.Mapping[1].KpiCode)
	}
	if creator.created == nil {
		t.Error("Connection was not persisted")
	}
}

func TestSaveConnectionValidation(t *testing.T) {
	svc := newTestService(&fakeSheetSource{}, &fakeCreator{})

	missingFund := validConfig()
	missingFund.FundID = ""
	if _, err := svc.SaveConnection(context.Background(), missingFund); err == nil {
		t.Error("Expected error for missing fund id")
	}

	missingTokens := validConfig()
	missingTokens.Tokens = nil
	if _, err := svc.SaveConnection(context.Background(), missingTokens); err == nil {
		t.Error("Expected error for missing tokens")
	}

	emptyMapping := validConfig()
	emptyMapping.Mapping = nil
	if _, err := svc.SaveConnection(context.Background(), emptyMapping); err == nil {
		t.Error("Expected error for empty mapping")
	}

	badEntry := validConfig()
	badEntry.Mapping = []MappingInput{{Source: "NOI"}}
	if _, err := svc.SaveConnection(context.Background(), badEntry); err == nil {
		t.Error("Expected error for entry with neither code nor custom name")
	}
}
