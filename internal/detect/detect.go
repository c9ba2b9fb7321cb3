package detect

import (
	"strings"

	"fund_sheet_sync/internal/parse"

	"github.com/rs/zerolog/log"
)

// Kind classifies the layout style of a detected section.
type Kind string

const (
	KindKeyValue Kind = "key-value"
	KindTabular  Kind = "tabular"
)

// MetricType distinguishes one-per-sheet facts from one-per-row facts.
type MetricType string

const (
	MetricSummary MetricType = "summary"
	MetricDetail  MetricType = "detail"
)

const defaultSectionName = "General"

// sectionKeywords gates section-header detection. The full conjunction
// (length, all-caps, lone cell, keyword) is deliberately strict so that
// ordinary all-caps labels and total rows do not open new sections.
var sectionKeywords = []string{
	"overview", "summary", "portfolio", "details", "breakdown", "total",
	"analysis", "metrics", "performance", "returns", "holdings",
	"properties", "assets", "investments", "fund",
}

// Metric is one named, value-bearing unit found during extraction.
type Metric struct {
	Key         string
	Value       string
	RowIndex    int
	ColumnIndex int // -1 outside tabular sections
	SectionName string
	Type        MetricType
}

// Section is one detected region of a raw grid. Not persisted.
type Section struct {
	Name          string
	Kind          Kind
	StartRow      int
	EndRow        int
	Metrics       []Metric
	ColumnHeaders []string
	DataRows      [][]string
}

// DetectSections partitions a raw grid into logical sections and
// classifies each as key-value or tabular. Pure: no I/O, deterministic.
// Sections that yield zero metrics are discarded.
func DetectSections(grid [][]string) []Section {
	var sections []Section
	var open *Section
	foundHeader := false

	closeOpen := func(endRow int) {
		if open == nil {
			return
		}
		open.EndRow = endRow
		if open.EndRow >= open.StartRow {
			open.extract(grid)
			if len(open.Metrics) > 0 {
				sections = append(sections, *open)
			}
		}
		open = nil
	}

	for i, row := range grid {
		if isSectionHeaderRow(row) {
			foundHeader = true
			closeOpen(i - 1)
			open = &Section{
				Name:     strings.TrimSpace(row[0]),
				Kind:     KindKeyValue,
				StartRow: i + 1,
			}
			continue
		}

		// The first table-header row inside an open key-value section
		// flips it to tabular; the header row becomes part of the
		// tabular region.
		if open != nil && open.Kind == KindKeyValue && isTableHeaderRow(row) {
			open.Kind = KindTabular
			open.StartRow = i
		}
	}
	closeOpen(len(grid) - 1)

	if !foundHeader {
		return fallbackSection(grid)
	}

	log.Debug().
		Int("rows", len(grid)).
		Int("sections", len(sections)).
		Msg("Detected sheet sections")
	return sections
}

// fallbackSection treats the entire grid as one section whose kind is
// chosen by a coarse row-shape vote over the first rows.
func fallbackSection(grid [][]string) []Section {
	if len(grid) == 0 {
		return nil
	}

	kvScore, tabScore := 0, 0
	sample := len(grid)
	if sample > 20 {
		sample = 20
	}
	for i := 0; i < sample; i++ {
		switch n := populatedCells(grid[i]); {
		case n >= 4:
			tabScore++
		case n > 0 && n <= 2:
			kvScore++
		}
	}
	if populatedCells(grid[0]) > 4 {
		tabScore++
	}

	kind := KindKeyValue
	if tabScore > kvScore {
		kind = KindTabular
	}

	s := Section{
		Name:     defaultSectionName,
		Kind:     kind,
		StartRow: 0,
		EndRow:   len(grid) - 1,
	}
	s.extract(grid)
	if len(s.Metrics) == 0 {
		return nil
	}

	log.Debug().
		Str("kind", string(kind)).
		Int("kv_score", kvScore).
		Int("tab_score", tabScore).
		Msg("No section headers found, using whole-grid fallback")
	return []Section{s}
}

func (s *Section) extract(grid [][]string) {
	if s.Kind == KindTabular {
		s.extractTabular(grid)
		return
	}
	s.extractKeyValue(grid)
}

func (s *Section) extractKeyValue(grid [][]string) {
	for r := s.StartRow; r <= s.EndRow && r < len(grid); r++ {
		row := grid[r]
		if len(row) == 0 {
			continue
		}
		key := strings.TrimSpace(row[0])
		if key == "" || isSectionHeaderRow(row) {
			continue
		}

		value := ""
		for c := 1; c < len(row); c++ {
			if cell := strings.TrimSpace(row[c]); cell != "" {
				value = cell
				break
			}
		}
		if value == "" {
			continue
		}

		s.Metrics = append(s.Metrics, Metric{
			Key:         key,
			Value:       value,
			RowIndex:    r,
			ColumnIndex: -1,
			SectionName: s.Name,
			Type:        MetricSummary,
		})
	}
}

const sampleRowLimit = 3

func (s *Section) extractTabular(grid [][]string) {
	if s.StartRow >= len(grid) {
		return
	}
	header := grid[s.StartRow]

	type column struct {
		name  string
		index int
	}
	var columns []column
	for c, cell := range header {
		if name := strings.TrimSpace(cell); name != "" {
			columns = append(columns, column{name: name, index: c})
			s.ColumnHeaders = append(s.ColumnHeaders, name)
		}
	}
	if len(columns) == 0 {
		return
	}

	for r := s.StartRow + 1; r <= s.EndRow && r < len(grid); r++ {
		row := grid[r]
		if populatedCells(row) == 0 || isAggregateRow(row) {
			continue
		}
		s.DataRows = append(s.DataRows, row)
	}

	for _, col := range columns {
		var samples []string
		for i := 0; i < len(s.DataRows) && i < sampleRowLimit; i++ {
			row := s.DataRows[i]
			if col.index < len(row) {
				if cell := strings.TrimSpace(row[col.index]); cell != "" {
					samples = append(samples, cell)
				}
			}
		}
		s.Metrics = append(s.Metrics, Metric{
			Key:         col.name,
			Value:       "Sample: " + strings.Join(samples, ", "),
			RowIndex:    s.StartRow,
			ColumnIndex: col.index,
			SectionName: s.Name,
			Type:        MetricDetail,
		})
	}
}

// isSectionHeaderRow reports whether the row is a lone, all-caps title
// containing one of the known section keywords.
func isSectionHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.TrimSpace(row[0])
	if len(first) < 5 {
		return false
	}
	for _, cell := range row[1:] {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	if first != strings.ToUpper(first) || first == strings.ToLower(first) {
		return false
	}
	lower := strings.ToLower(first)
	for _, kw := range sectionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isTableHeaderRow applies the table-header heuristic: enough populated
// cells, and header-like cells both outnumbering and independently
// clearing a floor over data-like cells.
func isTableHeaderRow(row []string) bool {
	nonEmpty, headerLike, dataLike := 0, 0, 0
	for _, cell := range row {
		s := strings.TrimSpace(cell)
		if s == "" {
			continue
		}
		nonEmpty++
		if parse.IsDataLike(s) {
			dataLike++
		} else if parse.IsHeaderLike(s) {
			headerLike++
		}
	}
	return nonEmpty >= 4 && headerLike >= 4 && headerLike > dataLike
}

// isAggregateRow reports whether a data row is a total/summary/average
// footer that must be excluded from the data table.
func isAggregateRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimSpace(row[0]))
	return strings.Contains(first, "TOTAL") ||
		strings.Contains(first, "SUMMARY") ||
		strings.Contains(first, "AVERAGE")
}

func populatedCells(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}
