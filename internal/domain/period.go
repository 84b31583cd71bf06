package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of period bounds.
const DateLayout = "2006-01-02"

// Period is a half-open date window [From, To).
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// MonthPeriod returns the calendar month containing t, in UTC.
func MonthPeriod(t time.Time) Period {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{From: from, To: from.AddDate(0, 1, 0)}
}

// ParsePeriod parses YYYY-MM-DD bounds. Empty bounds fall back to the month of now.
func ParsePeriod(from, to string, now time.Time) (Period, error) {
	p := MonthPeriod(now)
	if from != "" {
		f, err := time.Parse(DateLayout, from)
		if err != nil {
			return Period{}, &ErrValidation{Field: "from", Message: "must be YYYY-MM-DD"}
		}
		p.From = f
		if to == "" {
			p.To = f.AddDate(0, 1, 0)
		}
	}
	if to != "" {
		t, err := time.Parse(DateLayout, to)
		if err != nil {
			return Period{}, &ErrValidation{Field: "to", Message: "must be YYYY-MM-DD"}
		}
		p.To = t
	}
	return p, p.Validate()
}

// Validate checks the window is non-empty.
func (p Period) Validate() error {
	if p.From.IsZero() || p.To.IsZero() {
		return &ErrValidation{Field: "period", Message: "from and to are required"}
	}
	if !p.From.Before(p.To) {
		return &ErrValidation{Field: "period", Message: "from must be before to"}
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// Key identifies the window in caches and logs.
func (p Period) Key() string {
	return fmt.Sprintf("%s:%s", p.From.Format(DateLayout), p.To.Format(DateLayout))
}
