package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateTable holds exchange rates published for one base currency.
// Rates[code] is how many units of code one unit of Base buys.
type RateTable struct {
	Base          string
	AsOf          time.Time
	NextRefreshAt time.Time
	Rates         map[string]decimal.Decimal
}

// Expired reports whether the table has passed its refresh deadline.
func (t *RateTable) Expired(now time.Time) bool {
	return !now.Before(t.NextRefreshAt)
}

// Rate returns the rate for code, if the table carries it.
func (t *RateTable) Rate(code string) (decimal.Decimal, bool) {
	r, ok := t.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}
