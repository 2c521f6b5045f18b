package core

import (
	"fmt"
	"time"
)

// Period is a calendar month used to filter and aggregate transactions.
// The zero value means "all time".
type Period struct {
	Year  int
	Month time.Month
}

// AllTime matches every transaction.
var AllTime = Period{}

// ParsePeriod parses YYYY-MM. An empty string yields AllTime.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return AllTime, nil
	}
	if len(s) != 7 || s[4] != '-' {
		return Period{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("%q is not in YYYY-MM format", s)}
	}
	year, ok := atoiDigits(s[:4])
	if !ok || year < 1 {
		return Period{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("invalid year in %q", s)}
	}
	month, ok := atoiDigits(s[5:])
	if !ok || month < 1 || month > 12 {
		return Period{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("invalid month in %q", s)}
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// MustParsePeriod is ParsePeriod for constants and tests.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) IsAllTime() bool {
	return p == AllTime
}

func (p Period) String() string {
	if p.IsAllTime() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Contains reports whether t falls in the period's UTC calendar month.
func (p Period) Contains(t time.Time) bool {
	if p.IsAllTime() {
		return true
	}
	return PeriodOf(t) == p
}

// Bounds returns the half-open UTC interval [start, end) of the period.
func (p Period) Bounds() (time.Time, time.Time) {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Previous and Next step one calendar month.
func (p Period) Previous() Period {
	return PeriodOf(time.Date(p.Year, p.Month-1, 1, 0, 0, 0, 0, time.UTC))
}

func (p Period) Next() Period {
	return PeriodOf(time.Date(p.Year, p.Month+1, 1, 0, 0, 0, 0, time.UTC))
}

func atoiDigits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
