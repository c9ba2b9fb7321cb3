package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	currencyPattern = regexp.MustCompile(`^\(?[$€£¥]\s?-?[\d,]+(\.\d+)?\)?$`)
	percentPattern  = regexp.MustCompile(`^\(?-?[\d,]+(\.\d+)?\s?%\)?$`)
	numberPattern   = regexp.MustCompile(`^\(?-?[\d,]+(\.\d+)?\)?$`)
	datePattern     = regexp.MustCompile(`^(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{2,4})$`)

	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "")
)

// Numeric converts a free-text spreadsheet cell into a float64.
// It tolerates currency symbols, thousands separators, a trailing %
// (result divided by 100), a trailing multiple suffix like "1.52x"
// (suffix dropped, value unscaled), and parenthesized negatives per
// accounting convention. The second return is false when the cell does
// not contain a finite number; callers must treat that as "no value
// here", never as zero.
func Numeric(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	} else if len(s) > 1 {
		// multiple-of-capital notation, e.g. "1.52x"
		last := s[len(s)-1]
		if (last == 'x' || last == 'X') && isDigit(s[len(s)-2]) {
			s = strings.TrimSpace(s[:len(s)-1])
		}
	}

	s = strings.TrimSpace(currencySymbols.Replace(s))
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	if percent {
		v /= 100
	}
	if negative {
		v = -v
	}
	return v, true
}

// Boolean reports whether the cell spells an affirmative value.
func Boolean(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// IsDataLike reports whether the cell looks like a value rather than a
// label: currency, percentage, date, or bare number.
func IsDataLike(cell string) bool {
	s := strings.TrimSpace(cell)
	if s == "" {
		return false
	}
	return currencyPattern.MatchString(s) ||
		percentPattern.MatchString(s) ||
		datePattern.MatchString(s) ||
		numberPattern.MatchString(s)
}

// IsHeaderLike reports whether the cell looks like a column heading:
// plain text of plausible length that does not match any value pattern.
func IsHeaderLike(cell string) bool {
	s := strings.TrimSpace(cell)
	if len(s) < 2 || len(s) >= 50 {
		return false
	}
	return !IsDataLike(s)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
