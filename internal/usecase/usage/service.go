package usage

import (
	"time"

	domusage "github.com/vekku/brain/internal/domain/usage"
)

// Service reports embedding token usage.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br may be nil when no budget is configured;
// reports then show zero usage and no limit.
func New(br BudgetReader) *Service {
	return &Service{br: br, now: time.Now}
}

// Report builds the usage report for the current window of period.
func (s *Service) Report(period domusage.Period) domusage.Report {
	start, end := period.Bounds(s.now())
	r := domusage.Report{Period: period, PeriodStart: start, PeriodEnd: end, Remaining: -1}
	if s.br == nil {
		return r
	}

	if period == domusage.PeriodDay {
		r.Limit, r.TokensUsed, r.Remaining = s.br.DailyLimit(), s.br.DailyUsed(), s.br.RemainingDaily()
	} else {
		r.Limit, r.TokensUsed, r.Remaining = s.br.MonthlyLimit(), s.br.MonthlyUsed(), s.br.RemainingMonthly()
	}
	r.Exhausted = r.Limit > 0 && r.Remaining <= 0
	return r
}
