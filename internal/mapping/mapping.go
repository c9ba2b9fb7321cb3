package mapping

import (
	"strings"

	"fund_sheet_sync/internal/detect"
)

// KpiDefinition is one entry of the KPI catalogue.
type KpiDefinition struct {
	Code string
	Name string
}

// Entry is one user-confirmed link from a spreadsheet column or label
// to a KPI code. DataType distinguishes actual from estimate values.
type Entry struct {
	Source   string `json:"source"`
	KpiCode  string `json:"kpi_code"`
	DataType string `json:"data_type"`
}

// Suggestion pairs an extracted metric with a catalogue KPI it likely
// corresponds to. Advisory only; the user confirms the final mapping.
type Suggestion struct {
	MetricKey string
	KpiCode   string
	KpiName   string
}

// Suggest matches extracted metric keys against the KPI catalogue. A
// key matches a definition when, case-insensitively, the key equals the
// code, the KPI name contains the key, or the key contains the code or
// the name.
func Suggest(metrics []detect.Metric, defs []KpiDefinition) []Suggestion {
	var suggestions []Suggestion
	for _, m := range metrics {
		key := strings.ToLower(strings.TrimSpace(m.Key))
		if key == "" {
			continue
		}
		for _, def := range defs {
			code := strings.ToLower(def.Code)
			name := strings.ToLower(def.Name)
			if key == code ||
				strings.Contains(name, key) ||
				strings.Contains(key, code) ||
				(name != "" && strings.Contains(key, name)) {
				suggestions = append(suggestions, Suggestion{
					MetricKey: m.Key,
					KpiCode:   def.Code,
					KpiName:   def.Name,
				})
				break
			}
		}
	}
	return suggestions
}

// SynthesizeCode derives a KPI code from a custom metric name declared
// by the user: lower-cased, spaces collapsed to underscores.
func SynthesizeCode(name string) string {
	code := strings.ToLower(strings.TrimSpace(name))
	code = strings.Join(strings.Fields(code), "_")
	return code
}
