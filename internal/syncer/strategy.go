package syncer

import (
	"strings"

	"fund_sheet_sync/internal/parse"
)

// Strategy resolves one mapping entry's source identifier to a numeric
// value. A miss (ok=false) is not a failure; the executor tries each
// strategy in order and skips the entry when all of them miss.
type Strategy interface {
	Resolve(grid [][]string, headerRows []int, source string) (float64, bool)
}

// defaultStrategies is the lookup order: key-value first, tabular
// second.
func defaultStrategies() []Strategy {
	return []Strategy{keyValueStrategy{}, tabularStrategy{}}
}

// keyValueStrategy finds a row whose first cell equals the source
// identifier and takes the first numeric cell to its right.
type keyValueStrategy struct{}

func (keyValueStrategy) Resolve(grid [][]string, _ []int, source string) (float64, bool) {
	want := strings.ToLower(strings.TrimSpace(source))
	for _, row := range grid {
		if len(row) == 0 || strings.ToLower(strings.TrimSpace(row[0])) != want {
			continue
		}
		for _, cell := range row[1:] {
			if v, ok := parse.Numeric(cell); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// tabularStrategy matches the source identifier against each candidate
// header row's cells, then scans downward in that column for the first
// numeric value, skipping other header rows and empty rows.
type tabularStrategy struct{}

func (tabularStrategy) Resolve(grid [][]string, headerRows []int, source string) (float64, bool) {
	want := strings.ToLower(strings.TrimSpace(source))
	headerSet := make(map[int]bool, len(headerRows))
	for _, r := range headerRows {
		headerSet[r] = true
	}

	for _, hr := range headerRows {
		if hr >= len(grid) {
			continue
		}
		col := -1
		for c, cell := range grid[hr] {
			if strings.ToLower(strings.TrimSpace(cell)) == want {
				col = c
				break
			}
		}
		if col < 0 {
			continue
		}

		for r := hr + 1; r < len(grid); r++ {
			if headerSet[r] || isEmptyRow(grid[r]) {
				continue
			}
			if col < len(grid[r]) {
				if v, ok := parse.Numeric(grid[r][col]); ok {
					return v, true
				}
			}
		}
	}
	return 0, false
}

// LocateHeaderRows finds candidate table-header rows across the whole
// grid, independent of section boundaries: mostly textual cells with at
// most a couple of numeric-looking ones.
func LocateHeaderRows(grid [][]string) []int {
	var rows []int
	for i, row := range grid {
		headerLike, dataLike := 0, 0
		for _, cell := range row {
			s := strings.TrimSpace(cell)
			if s == "" {
				continue
			}
			if parse.IsDataLike(s) {
				dataLike++
			} else if parse.IsHeaderLike(s) {
				headerLike++
			}
		}
		if headerLike >= 3 && dataLike <= 2 {
			rows = append(rows, i)
		}
	}
	return rows
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
