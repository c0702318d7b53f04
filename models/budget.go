package models

import "time"

// BudgetPeriod is the granularity of one ledger row.
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
)

// PeriodKey renders the ledger key for a period at a point in time:
// ISO date for daily rows, year-month for monthly rows.
func PeriodKey(period BudgetPeriod, now time.Time) string {
	switch period {
	case PeriodMonthly:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02")
	}
}

// BudgetRow accumulates spend for one (period_type, period_key) pair.
type BudgetRow struct {
	PeriodType   BudgetPeriod
	PeriodKey    string
	TotalSpend   float64
	InputTokens  int64
	OutputTokens int64
	RequestCount int64
	UpdatedAt    time.Time
}

// BudgetStatus is the ledger snapshot reported on the health surface.
type BudgetStatus struct {
	DailySpend   float64 `json:"daily_spend"`
	DailyLimit   float64 `json:"daily_limit"`
	MonthlySpend float64 `json:"monthly_spend"`
	MonthlyLimit float64 `json:"monthly_limit"`
}
