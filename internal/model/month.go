package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// FirstReportYear is the earliest year the portal holds incident reports for.
const FirstReportYear = 1971

// Month identifies one calendar month. Each month maps to one snapshot file.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// NewMonth builds a Month from a year and a 1-based month number.
func NewMonth(year, month int) Month {
	return Month{Year: year, Month: time.Month(month)}
}

// MonthOf returns the month containing t (in t's location).
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "2024-01" (optionally with a ".csv" suffix).
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", trimCSV(s))
	if err != nil {
		return Month{}, eris.Wrapf(err, "model: parse month %q", s)
	}
	return MonthOf(t), nil
}

func trimCSV(s string) string {
	if len(s) > 4 && s[len(s)-4:] == ".csv" {
		return s[:len(s)-4]
	}
	return s
}

// String returns the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// FileName is the snapshot (and discovery table) file name for the month.
func (m Month) FileName() string {
	return m.String() + ".csv"
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Prev returns the preceding calendar month.
func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// DateRange returns the first and last day of the month as YYYY-MM-DD.
func (m Month) DateRange() (from, to string) {
	first := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format(time.DateOnly), last.Format(time.DateOnly)
}

// Validate rejects months before the portal's first year and months after now.
func (m Month) Validate(now time.Time) error {
	if m.Month < time.January || m.Month > time.December {
		return eris.Errorf("model: invalid month number %d", int(m.Month))
	}
	if m.Year < FirstReportYear {
		return eris.Errorf("model: reports are only available from January %d, requested %s", FirstReportYear, m)
	}
	if MonthOf(now).Before(m) {
		return eris.Errorf("model: %s is in the future, only data up to %s can be fetched", m, MonthOf(now))
	}
	return nil
}

// Walk returns n months starting at start, stepping forward or backward.
func Walk(start Month, n int, forward bool) []Month {
	if n <= 0 {
		return nil
	}
	out := make([]Month, 0, n)
	m := start
	for range n {
		out = append(out, m)
		if forward {
			m = m.Next()
		} else {
			m = m.Prev()
		}
	}
	return out
}
