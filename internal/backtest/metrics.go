package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// periodsPerYear is the fixed annualization table the spec mandates for
// Sharpe/Sortino scaling. Known approximation: it treats the market as
// always-open, which overstates annualized volatility for exchanges with
// maintenance windows; kept as specified rather than corrected.
var periodsPerYear = map[string]float64{
	"1m":  525600,
	"5m":  105120,
	"15m": 35040,
	"1h":  8760,
	"4h":  2190,
	"1d":  365,
}

// MonthlyReturn is one calendar month's return.
type MonthlyReturn struct {
	Month  string // "2024-01"
	Return decimal.Decimal
}

// DrawdownStat summarizes one drawdown episode over the equity curve.
type DrawdownStat struct {
	StartIndex int
	EndIndex   int
	PeakEquity decimal.Decimal
	Trough     decimal.Decimal
	Pct        decimal.Decimal
	Duration   time.Duration
}

// Metrics is the full report computed from a backtest Result.
type Metrics struct {
	TotalReturn      decimal.Decimal
	CAGR             decimal.Decimal
	MonthlyReturns   []MonthlyReturn
	BestMonth        MonthlyReturn
	WorstMonth       MonthlyReturn

	AnnualizedVol    float64
	MaxDrawdownPct   decimal.Decimal
	AvgDrawdownPct   decimal.Decimal
	LongestDrawdown  time.Duration
	Drawdowns        []DrawdownStat
	VaR95            float64
	VaR99            float64
	CVaR95           float64

	Sharpe  float64
	Sortino float64
	Calmar  float64
	Omega   float64

	WinRate         decimal.Decimal
	ProfitFactor     decimal.Decimal
	Expectancy       decimal.Decimal
	AverageDuration  time.Duration
	TotalTrades      int
}

// closedTrade pairs a symbol's opposing fills into one round-trip,
// FIFO-matched the same way the grid strategy closes positions, so
// per-trade P&L can be computed independently of any one strategy.
type closedTrade struct {
	symbol   string
	pnl      decimal.Decimal
	opened   time.Time
	closed   time.Time
}

// Compute derives the full metrics suite from a backtest Result. timeframe
// selects the annualization factor (periodsPerYear); unrecognized
// timeframes fall back to daily.
func Compute(result Result, timeframe string) Metrics {
	periods, ok := periodsPerYear[timeframe]
	if !ok {
		periods = periodsPerYear["1d"]
	}

	m := Metrics{}
	curve := result.EquityCurve
	if len(curve) == 0 {
		return m
	}

	start := curve[0].Equity
	end := curve[len(curve)-1].Equity
	if start.IsPositive() {
		m.TotalReturn = end.Sub(start).Div(start)
	}

	years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / (24 * 365)
	if years > 0 && start.IsPositive() {
		ratio := end.Div(start)
		if ratio.IsPositive() {
			f, _ := ratio.Float64()
			m.CAGR = decimal.NewFromFloat(math.Pow(f, 1/years) - 1)
		}
	}

	periodReturns := periodReturns(curve)
	m.MonthlyReturns = monthlyReturns(curve)
	if len(m.MonthlyReturns) > 0 {
		best, worst := m.MonthlyReturns[0], m.MonthlyReturns[0]
		for _, mr := range m.MonthlyReturns {
			if mr.Return.GreaterThan(best.Return) {
				best = mr
			}
			if mr.Return.LessThan(worst.Return) {
				worst = mr
			}
		}
		m.BestMonth, m.WorstMonth = best, worst
	}

	m.AnnualizedVol = stdev(periodReturns) * math.Sqrt(periods)

	m.Drawdowns = computeDrawdowns(curve)
	if len(m.Drawdowns) > 0 {
		maxDD, sumDD := decimal.Zero, decimal.Zero
		var longest time.Duration
		for _, d := range m.Drawdowns {
			if d.Pct.GreaterThan(maxDD) {
				maxDD = d.Pct
			}
			sumDD = sumDD.Add(d.Pct)
			if d.Duration > longest {
				longest = d.Duration
			}
		}
		m.MaxDrawdownPct = maxDD
		m.AvgDrawdownPct = sumDD.Div(decimal.NewFromInt(int64(len(m.Drawdowns))))
		m.LongestDrawdown = longest
	}

	m.VaR95, m.VaR99, m.CVaR95 = valueAtRisk(periodReturns)

	meanReturn := mean(periodReturns)
	sd := stdev(periodReturns)
	if sd > 0 {
		m.Sharpe = (meanReturn / sd) * math.Sqrt(periods)
	}
	downside := downsideDeviation(periodReturns)
	if downside > 0 {
		m.Sortino = (meanReturn / downside) * math.Sqrt(periods)
	}
	if !m.MaxDrawdownPct.IsZero() {
		cagr, _ := m.CAGR.Float64()
		dd, _ := m.MaxDrawdownPct.Float64()
		m.Calmar = cagr / dd
	}
	m.Omega = omegaRatio(periodReturns)

	trades := matchTrades(result.Fills)
	m.TotalTrades = len(trades)
	if len(trades) > 0 {
		wins, losses := decimal.Zero, decimal.Zero
		winCount := 0
		var totalDuration time.Duration
		for _, t := range trades {
			if t.pnl.IsPositive() {
				wins = wins.Add(t.pnl)
				winCount++
			} else {
				losses = losses.Add(t.pnl.Abs())
			}
			totalDuration += t.closed.Sub(t.opened)
		}
		m.WinRate = decimal.NewFromInt(int64(winCount)).Div(decimal.NewFromInt(int64(len(trades))))
		if losses.IsPositive() {
			m.ProfitFactor = wins.Div(losses)
		}
		avgWin := decimal.Zero
		if winCount > 0 {
			avgWin = wins.Div(decimal.NewFromInt(int64(winCount)))
		}
		avgLoss := decimal.Zero
		if len(trades)-winCount > 0 {
			avgLoss = losses.Div(decimal.NewFromInt(int64(len(trades) - winCount)))
		}
		m.Expectancy = m.WinRate.Mul(avgWin).Sub(decimal.NewFromInt(1).Sub(m.WinRate).Mul(avgLoss))
		m.AverageDuration = totalDuration / time.Duration(len(trades))
	}

	return m
}

func periodReturns(curve []core.EquityPoint) []float64 {
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

func monthlyReturns(curve []core.EquityPoint) []MonthlyReturn {
	type bucket struct {
		first, last decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	var order []string
	for _, p := range curve {
		key := p.Timestamp.Format("2006-01")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{first: p.Equity}
			buckets[key] = b
			order = append(order, key)
		}
		b.last = p.Equity
	}
	sort.Strings(order)
	out := make([]MonthlyReturn, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		ret := decimal.Zero
		if b.first.IsPositive() {
			ret = b.last.Sub(b.first).Div(b.first)
		}
		out = append(out, MonthlyReturn{Month: key, Return: ret})
	}
	return out
}

func computeDrawdowns(curve []core.EquityPoint) []DrawdownStat {
	var out []DrawdownStat
	peak := curve[0].Equity
	peakIdx := 0
	inDrawdown := false
	trough := curve[0].Equity

	closeDrawdown := func(endIdx int) {
		if !inDrawdown {
			return
		}
		pct := decimal.Zero
		if peak.IsPositive() {
			pct = peak.Sub(trough).Div(peak)
		}
		out = append(out, DrawdownStat{
			StartIndex: peakIdx, EndIndex: endIdx, PeakEquity: peak, Trough: trough, Pct: pct,
			Duration: curve[endIdx].Timestamp.Sub(curve[peakIdx].Timestamp),
		})
		inDrawdown = false
	}

	for i, p := range curve {
		if p.Equity.GreaterThanOrEqual(peak) {
			closeDrawdown(i)
			peak = p.Equity
			peakIdx = i
			continue
		}
		if !inDrawdown || p.Equity.LessThan(trough) {
			trough = p.Equity
		}
		inDrawdown = true
	}
	closeDrawdown(len(curve) - 1)
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sumSq := 0.0
	for _, x := range xs {
		sumSq += (x - m) * (x - m)
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	var negatives []float64
	for _, x := range xs {
		if x < 0 {
			negatives = append(negatives, x)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, x := range negatives {
		sumSq += x * x
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// valueAtRisk returns (VaR95, VaR99, CVaR95) as positive loss fractions,
// using historical simulation over the period-return sample.
func valueAtRisk(xs []float64) (var95, var99, cvar95 float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	idx95 := int(0.05 * float64(len(sorted)))
	idx99 := int(0.01 * float64(len(sorted)))
	if idx95 >= len(sorted) {
		idx95 = len(sorted) - 1
	}
	if idx99 >= len(sorted) {
		idx99 = len(sorted) - 1
	}
	var95 = -sorted[idx95]
	var99 = -sorted[idx99]

	tail := sorted[:idx95+1]
	sum := 0.0
	for _, x := range tail {
		sum += x
	}
	cvar95 = -(sum / float64(len(tail)))
	return
}

func omegaRatio(xs []float64) float64 {
	gains, losses := 0.0, 0.0
	for _, x := range xs {
		if x >= 0 {
			gains += x
		} else {
			losses += -x
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return gains / losses
}

// matchTrades pairs fills into round-trips via symbol-wide FIFO, the
// same matching discipline the grid strategy itself uses to close
// positions — independent re-derivation so metrics don't depend on the
// strategy exposing its internal trade ledger.
func matchTrades(fills []core.Order) []closedTrade {
	type open struct {
		amount decimal.Decimal
		price  decimal.Decimal
		at     time.Time
	}
	queues := make(map[string][]open)
	var trades []closedTrade

	for _, f := range fills {
		q := queues[f.Symbol]
		if f.Side == core.Buy {
			q = append(q, open{amount: f.Amount, price: f.Price, at: f.Timestamp})
			queues[f.Symbol] = q
			continue
		}
		remaining := f.Amount
		for remaining.IsPositive() && len(q) > 0 {
			head := q[0]
			matched := decimal.Min(remaining, head.amount)
			pnl := matched.Mul(f.Price.Sub(head.price))
			trades = append(trades, closedTrade{symbol: f.Symbol, pnl: pnl, opened: head.at, closed: f.Timestamp})
			remaining = remaining.Sub(matched)
			head.amount = head.amount.Sub(matched)
			if head.amount.IsZero() {
				q = q[1:]
			} else {
				q[0] = head
			}
		}
		queues[f.Symbol] = q
	}
	return trades
}
