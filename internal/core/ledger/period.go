package ledger

import (
	"strconv"
	"strings"
)

// Period is a billing month. Month is always two digits ("01".."12") and
// Year four digits, so the string order of periods is chronological.
type Period struct {
	Month string
	Year  string
}

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

// ParsePeriod normalizes a month and a year. The month may be a number from
// 1 to 12, with or without zero padding, or an English month name or its
// three letter abbreviation in any case.
func ParsePeriod(month, year string) (Period, error) {
	m, err := parseMonth(month)
	if err != nil {
		return Period{}, err
	}

	y := strings.TrimSpace(year)
	if len(y) != 4 {
		return Period{}, validationError("year must have four digits")
	}
	if _, err := strconv.ParseUint(y, 10, 16); err != nil {
		return Period{}, validationError("year must be a number")
	}

	return Period{Month: m, Year: y}, nil
}

func parseMonth(month string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(month))
	if s == "" {
		return "", validationError("month is required")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return "", validationError("month must be between 1 and 12")
		}
		return pad(n), nil
	}

	if n, ok := monthNames[s]; ok {
		return pad(n), nil
	}
	if len(s) == 3 {
		for name, n := range monthNames {
			if strings.HasPrefix(name, s) {
				return pad(n), nil
			}
		}
	}

	return "", validationError("unknown month " + strconv.Quote(month))
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
