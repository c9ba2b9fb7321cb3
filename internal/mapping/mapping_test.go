package mapping

import (
	"testing"

	"fund_sheet_sync/internal/detect"
)

func catalogue() []KpiDefinition {
	return []KpiDefinition{
		{Code: "noi", Name: "Net Operating Income"},
		{Code: "occupancy", Name: "Occupancy Rate"},
		{Code: "revenue", Name: "Gross Revenue"},
	}
}

func metrics(keys ...string) []detect.Metric {
	var ms []detect.Metric
	for _, k := range keys {
		ms = append(ms, detect.Metric{Key: k})
	}
	return ms
}

func TestSuggestExactCodeMatch(t *testing.T) {
	got := Suggest(metrics("NOI"), catalogue())
	if len(got) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(got))
	}
	if got[0].KpiCode != "noi" {
		t.Errorf("Expected noi, got %s", got[0].KpiCode)
	}
}

func TestSuggestKpiNameContainsKey(t *testing.T) {
	got := Suggest(metrics("Occupancy"), catalogue())
	if len(got) != 1 || got[0].KpiCode != "occupancy" {
		t.Fatalf("Expected occupancy suggestion, got %+v", got)
	}
}

func TestSuggestKeyContainsKpiName(t *testing.T) {
	got := Suggest(metrics("Q3 Net Operating Income (Actual)"), catalogue())
	if len(got) != 1 || got[0].KpiCode != "noi" {
		t.Fatalf("Expected noi suggestion, got %+v", got)
	}
}

func TestSuggestNoMatch(t *testing.T) {
	got := Suggest(metrics("Weather Forecast"), catalogue())
	if len(got) != 0 {
		t.Errorf("Expected no suggestions, got %+v", got)
	}
}

func TestSuggestSkipsEmptyKeysAndStopsAtFirstMatch(t *testing.T) {
	got := Suggest(metrics("", "  ", "Occupancy Rate"), catalogue())
	if len(got) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(got))
	}
	if got[0].MetricKey != "Occupancy Rate" {
		t.Errorf("Unexpected metric key %q", got[0].MetricKey)
	}
}

func TestSynthesizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Same Store Sales", "same_store_sales"},
		{"  Cash  on Cash  ", "cash_on_cash"},
		{"IRR", "irr"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SynthesizeCode(tt.in); got != tt.want {
			t.Errorf("SynthesizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
