package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeModel computes the fee charged on one fill.
type FeeModel interface {
	Fee(notional decimal.Decimal) decimal.Decimal
}

// PercentageFee charges a flat percentage of notional.
type PercentageFee struct {
	Rate decimal.Decimal
}

func (f PercentageFee) Fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(f.Rate)
}

// FixedFee charges a constant amount per fill regardless of size.
type FixedFee struct {
	Amount decimal.Decimal
}

func (f FixedFee) Fee(notional decimal.Decimal) decimal.Decimal {
	return f.Amount
}

// VolumeTier is one rung of a rolling-30-day-notional fee schedule, sorted
// ascending by MinNotional.
type VolumeTier struct {
	MinNotional decimal.Decimal
	Rate        decimal.Decimal
}

// TieredFee charges a percentage rate selected by the account's trailing
// 30-day traded notional, the way real exchanges structure maker/taker
// discounts. The trailing notional is whatever the caller has recorded via
// RecordNotional before the Fee call; Fee itself records nothing.
type TieredFee struct {
	Tiers   []VolumeTier // ascending by MinNotional; last match wins
	history []notionalEvent
}

type notionalEvent struct {
	at       time.Time
	notional decimal.Decimal
}

// RecordNotional appends a fill's notional to the rolling window and
// evicts anything older than 30 days relative to now.
func (f *TieredFee) RecordNotional(now time.Time, notional decimal.Decimal) {
	f.history = append(f.history, notionalEvent{at: now, notional: notional})
	cutoff := now.AddDate(0, 0, -30)
	kept := f.history[:0]
	for _, e := range f.history {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	f.history = kept
}

func (f *TieredFee) rolling30DayNotional() decimal.Decimal {
	total := decimal.Zero
	for _, e := range f.history {
		total = total.Add(e.notional)
	}
	return total
}

func (f *TieredFee) Fee(notional decimal.Decimal) decimal.Decimal {
	rolling := f.rolling30DayNotional()
	rate := decimal.Zero
	for _, tier := range f.Tiers {
		if rolling.GreaterThanOrEqual(tier.MinNotional) {
			rate = tier.Rate
		}
	}
	return notional.Mul(rate)
}

var (
	_ FeeModel = PercentageFee{}
	_ FeeModel = FixedFee{}
	_ FeeModel = (*TieredFee)(nil)
)
