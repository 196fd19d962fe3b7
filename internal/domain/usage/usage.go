// Package usage describes embedding token consumption over a budget window.
package usage

import (
	"fmt"
	"time"
)

// Period is the budget window a report covers.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts "day" or "month"; empty means month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodDay:
		return PeriodDay, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Bounds returns the UTC window of p containing t: [start, end).
func (p Period) Bounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	if p == PeriodDay {
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Report is token consumption within one window.
// Limit 0 means unlimited, in which case Remaining is -1.
type Report struct {
	Period      Period    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	TokensUsed  int64     `json:"tokens_used"`
	Limit       int64     `json:"limit"`
	Remaining   int64     `json:"remaining"`
	Exhausted   bool      `json:"exhausted"`
}
