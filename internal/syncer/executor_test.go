package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fund_sheet_sync/internal/config"
	"fund_sheet_sync/internal/creds"
	"fund_sheet_sync/internal/mapping"
	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/retry"

	"google.golang.org/api/googleapi"
)

type fakeSource struct {
	grid     [][]string
	errs     []error // consumed one per call, then success
	lastAuth string
	calls    int
}

func (f *fakeSource) FetchGrid(ctx context.Context, accessToken, spreadsheetID, sheetName string) ([][]string, error) {
	f.calls++
	f.lastAuth = accessToken
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.grid, nil
}

type fakeRefresher struct {
	bundle *creds.TokenBundle
	err    error
	calls  int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*creds.TokenBundle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bundle, nil
}

type fakeTokens struct {
	updates int
	access  string
}

func (f *fakeTokens) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	f.updates++
	f.access = accessToken
	return nil
}

type fakeKpis struct {
	points     map[string]*model.KpiDataPoint
	headlines  map[string]map[string]float64
	upsertErr  map[string]error
	headlErr   error
	headlCalls int
}

func newFakeKpis() *fakeKpis {
	return &fakeKpis{
		points:    make(map[string]*model.KpiDataPoint),
		headlines: make(map[string]map[string]float64),
		upsertErr: make(map[string]error),
	}
}

func (f *fakeKpis) UpsertDataPoint(ctx context.Context, dp *model.KpiDataPoint) error {
	if err := f.upsertErr[dp.KpiCode]; err != nil {
		return err
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%s", dp.DealID, dp.KpiCode, dp.PeriodType,
		dp.PeriodDate.Format("2006-01-02"), dp.DataType)
	f.points[key] = dp
	return nil
}

func (f *fakeKpis) UpdateDealHeadlines(ctx context.Context, dealID string, headlines map[string]float64) error {
	f.headlCalls++
	if f.headlErr != nil {
		return f.headlErr
	}
	f.headlines[dealID] = headlines
	return nil
}

func fastResilience() config.ResilienceConfig {
	fast := retry.Config{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Timeout:    time.Second,
	}
	return config.ResilienceConfig{GridFetch: fast, TokenRefresh: fast, Notify: fast}
}

func testGrid() [][]string {
	return [][]string{
		{"PORTFOLIO SUMMARY", ""},
		{"NOI", "$200,000"},
		{"Occupancy", "95%"},
		{"Asset", "Units", "Value", "Status"},
		{"Oak Plaza", "120", "$4,100,000", "Stabilized"},
	}
}

func testConnection() *model.Connection {
	return &model.Connection{
		ID:            "conn-1",
		FundID:        "fund-1",
		DealID:        "deal-1",
		SpreadsheetID: "sheet-abc",
		SheetName:     "Dashboard",
		AccessToken:   "access",
		RefreshToken:  "refresh",
		Frequency:     model.Freq15Minutes,
		Enabled:       true,
		Mapping: []mapping.Entry{
			{Source: "NOI", KpiCode: "noi", DataType: "actual"},
			{Source: "Occupancy", KpiCode: "occupancy", DataType: "actual"},
			{Source: "Value", KpiCode: "asset_value", DataType: "actual"},
			{Source: "Cap Rate", KpiCode: "cap_rate", DataType: "actual"},
		},
	}
}

func newTestExecutor(source GridSource, refresher TokenRefresher, tokens TokenWriter, kpis KpiWriter) *Executor {
	e := NewExecutor(source, refresher, tokens, kpis)
	e.resilience = fastResilience()
	return e
}

func TestRunResolvesAndUpsertsMappedValues(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	kpis := newFakeKpis()
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, kpis)

	result, err := e.Run(context.Background(), testConnection())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RowCount != 5 {
		t.Errorf("Expected row count 5, got %d", result.RowCount)
	}
	// Cap Rate misses both strategies; the other three resolve.
	if result.KpiCount != 3 {
		t.Errorf("Expected 3 kpis, got %d", result.KpiCount)
	}
	if len(kpis.points) != 3 {
		t.Errorf("Expected 3 stored points, got %d", len(kpis.points))
	}
	for _, dp := range kpis.points {
		if dp.DealID != "deal-1" || dp.Source != "spreadsheet" || dp.SourceRef != "conn-1" {
			t.Errorf("Bad provenance on %+v", dp)
		}
	}

	if got := kpis.headlines["deal-1"]; got["noi"] != 200000 || got["occupancy"] != 0.95 {
		t.Errorf("Unexpected headlines: %v", got)
	}
}

func TestRunIsIdempotentAcrossRepeatSyncs(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	kpis := newFakeKpis()
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, kpis)

	conn := testConnection()
	if _, err := e.Run(context.Background(), conn); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first := len(kpis.points)
	if _, err := e.Run(context.Background(), conn); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if len(kpis.points) != first {
		t.Errorf("Repeat sync grew storage from %d to %d rows", first, len(kpis.points))
	}
}

func TestRunUsesFundPlaceholderWithoutDeal(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	kpis := newFakeKpis()
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, kpis)

	conn := testConnection()
	conn.DealID = ""
	if _, err := e.Run(context.Background(), conn); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, dp := range kpis.points {
		if dp.DealID != "fund:fund-1" {
			t.Errorf("Expected fund placeholder deal id, got %q", dp.DealID)
		}
	}
	if kpis.headlCalls != 0 {
		t.Error("Headlines must not be updated without an owning deal")
	}
}

func TestRunRefreshesExpiredTokenBeforeFetch(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	tokens := &fakeTokens{}
	expires := time.Now().Add(time.Hour)
	refresher := &fakeRefresher{bundle: &creds.TokenBundle{
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		ExpiresAt:    expires,
	}}
	e := newTestExecutor(source, refresher, tokens, newFakeKpis())

	conn := testConnection()
	past := time.Now().Add(-time.Minute)
	conn.TokenExpiresAt = &past

	if _, err := e.Run(context.Background(), conn); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected 1 refresh, got %d", refresher.calls)
	}
	if tokens.access != "fresh" {
		t.Errorf("Refreshed token not persisted, got %q", tokens.access)
	}
	if source.lastAuth != "fresh" {
		t.Errorf("Fetch used stale token %q", source.lastAuth)
	}
}

func TestRunRefreshesOnAuthRejectionMidFetch(t *testing.T) {
	source := &fakeSource{
		grid: testGrid(),
		errs: []error{&googleapi.Error{Code: 401}},
	}
	refresher := &fakeRefresher{bundle: &creds.TokenBundle{
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	e := newTestExecutor(source, refresher, &fakeTokens{}, newFakeKpis())

	if _, err := e.Run(context.Background(), testConnection()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected refresh after 401, got %d calls", refresher.calls)
	}
	if source.calls != 2 {
		t.Errorf("Expected a second fetch after refresh, got %d calls", source.calls)
	}
}

func TestRunFailsWithCredentialError(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("refresh token revoked")}
	e := newTestExecutor(&fakeSource{grid: testGrid()}, refresher, &fakeTokens{}, newFakeKpis())

	conn := testConnection()
	past := time.Now().Add(-time.Minute)
	conn.TokenExpiresAt = &past

	_, err := e.Run(context.Background(), conn)
	if !errors.Is(err, ErrCredential) {
		t.Errorf("Expected ErrCredential, got %v", err)
	}
}

func TestRunFailsWithSourceUnavailable(t *testing.T) {
	// 404: the sheet was deleted. Permanent, no retries.
	source := &fakeSource{errs: []error{&googleapi.Error{Code: 404}}}
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, newFakeKpis())

	_, err := e.Run(context.Background(), testConnection())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Expected ErrSourceUnavailable, got %v", err)
	}
	if source.calls != 1 {
		t.Errorf("Expected no retries on a permanent error, got %d calls", source.calls)
	}
}

func TestRunSheetGoneAfterRefreshFailsWithoutRetries(t *testing.T) {
	// 401 triggers a refresh; the sheet then turns out deleted. The
	// second fetch must treat 404 as permanent too.
	source := &fakeSource{errs: []error{
		&googleapi.Error{Code: 401},
		&googleapi.Error{Code: 404},
	}}
	refresher := &fakeRefresher{bundle: &creds.TokenBundle{
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	e := newTestExecutor(source, refresher, &fakeTokens{}, newFakeKpis())

	_, err := e.Run(context.Background(), testConnection())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Expected ErrSourceUnavailable, got %v", err)
	}
	if source.calls != 2 {
		t.Errorf("Expected exactly 2 fetches (no retries after refresh), got %d", source.calls)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected a single refresh, got %d", refresher.calls)
	}
}

func TestRunIsolatesPerEntryPersistenceFailures(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	kpis := newFakeKpis()
	kpis.upsertErr["noi"] = errors.New("constraint violation")
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, kpis)

	result, err := e.Run(context.Background(), testConnection())
	if err != nil {
		t.Fatalf("Run must not fail on a per-entry persistence error: %v", err)
	}
	if result.KpiCount != 2 {
		t.Errorf("Expected 2 kpis (noi failed), got %d", result.KpiCount)
	}
}

func TestRunHeadlineFailureIsBestEffort(t *testing.T) {
	source := &fakeSource{grid: testGrid()}
	kpis := newFakeKpis()
	kpis.headlErr = errors.New("deal row locked")
	e := newTestExecutor(source, &fakeRefresher{}, &fakeTokens{}, kpis)

	if _, err := e.Run(context.Background(), testConnection()); err != nil {
		t.Fatalf("Headline failure must not fail the sync: %v", err)
	}
}
