package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// DrawdownTracker maintains peak/current equity, the running max drawdown,
// and a history of drawdown periods (C13).
type DrawdownTracker struct {
	mu sync.Mutex

	peakEquity    decimal.Decimal
	currentEquity decimal.Decimal
	maxDrawdown   decimal.Decimal
	periods       []core.DrawdownPeriod
}

func NewDrawdownTracker() *DrawdownTracker {
	return &DrawdownTracker{}
}

// Update feeds a new equity observation, updating peak, current drawdown
// and period bookkeeping per spec.
func (t *DrawdownTracker) Update(equity decimal.Decimal, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if equity.GreaterThan(t.peakEquity) {
		t.peakEquity = equity
		if n := len(t.periods); n > 0 && !t.periods[n-1].Recovered {
			open := &t.periods[n-1]
			open.EndDate = ts
			open.Recovered = true
			open.DurationDays = int(ts.Sub(open.StartDate).Hours() / 24)
		}
	}

	t.currentEquity = equity

	var currentDD decimal.Decimal
	if t.peakEquity.IsPositive() {
		currentDD = t.peakEquity.Sub(equity).Div(t.peakEquity)
	}

	if currentDD.GreaterThan(t.maxDrawdown) {
		t.maxDrawdown = currentDD
	}

	if currentDD.IsPositive() {
		if n := len(t.periods); n == 0 || t.periods[n-1].Recovered {
			t.periods = append(t.periods, core.DrawdownPeriod{
				StartDate:   ts,
				PeakEquity:  t.peakEquity,
				TroughEquity: equity,
				DrawdownPct: currentDD,
			})
		} else {
			open := &t.periods[len(t.periods)-1]
			if equity.LessThan(open.TroughEquity) || open.TroughEquity.IsZero() {
				open.TroughEquity = equity
				open.DrawdownPct = currentDD
			}
		}
	}
}

// CurrentDrawdown returns the latest computed drawdown fraction.
func (t *DrawdownTracker) CurrentDrawdown() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peakEquity.IsZero() {
		return decimal.Zero
	}
	return t.peakEquity.Sub(t.currentEquity).Div(t.peakEquity)
}

// MaxDrawdown returns the largest drawdown fraction ever observed.
func (t *DrawdownTracker) MaxDrawdown() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDrawdown
}

// RecoveryNeededPct returns peak/equity - 1, the return needed to reach a
// new peak from the current equity.
func (t *DrawdownTracker) RecoveryNeededPct() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentEquity.IsZero() {
		return decimal.Zero
	}
	return t.peakEquity.Div(t.currentEquity).Sub(decimal.NewFromInt(1))
}

// Periods returns a copy of all recorded drawdown periods, open or closed.
func (t *DrawdownTracker) Periods() []core.DrawdownPeriod {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.DrawdownPeriod, len(t.periods))
	copy(out, t.periods)
	return out
}

var _ core.IDrawdownTracker = (*DrawdownTracker)(nil)
