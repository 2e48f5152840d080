package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/pkg/concurrency"
)

// ParamRange is one tunable parameter's candidate values for grid search.
type ParamRange struct {
	Name   string
	Values []decimal.Decimal
}

// ParamSet is one concrete assignment drawn from the Cartesian product of
// a set of ParamRanges, keyed by ParamRange.Name.
type ParamSet map[string]decimal.Decimal

// BuildStrategy constructs a fresh strategy + execution context for one
// parameter set and one bar window, so the optimizer can run isolated
// trials concurrently without shared mutable state.
type BuildStrategy func(params ParamSet, bars []Bar) (core.IStrategy, *Context)

// MetricFn extracts the scalar the optimizer is maximizing from a
// computed Metrics (e.g. func(m Metrics) float64 { return m.Sharpe }).
type MetricFn func(Metrics) float64

// Trial is one evaluated parameter set.
type Trial struct {
	Params  ParamSet
	Metrics Metrics
	Score   float64
	Err     error
}

// Optimizer runs Cartesian grid-search and walk-forward analysis over a
// BuildStrategy factory, using a bounded worker pool so independent
// trials evaluate concurrently — grounded on pkg/concurrency.WorkerPool,
// the teacher's alitto/pond wrapper, adapted here for CPU-bound backtest
// trials instead of I/O tasks.
type Optimizer struct {
	Build     BuildStrategy
	Score     MetricFn
	Timeframe string
	Workers   int
	Logger    core.ILogger
}

// cartesian expands a slice of ParamRanges into every ParamSet combination.
func cartesian(ranges []ParamRange) []ParamSet {
	if len(ranges) == 0 {
		return nil
	}
	combos := []ParamSet{{}}
	for _, r := range ranges {
		var next []ParamSet
		for _, combo := range combos {
			for _, v := range r.Values {
				extended := make(ParamSet, len(combo)+1)
				for k, val := range combo {
					extended[k] = val
				}
				extended[r.Name] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// GridSearch evaluates every combination in ranges against bars and
// returns all trials sorted best-score-first.
func (o *Optimizer) GridSearch(ctx context.Context, bars []Bar, ranges []ParamRange) ([]Trial, error) {
	sets := cartesian(ranges)
	if len(sets) == 0 {
		return nil, fmt.Errorf("grid search: no parameter combinations")
	}

	workers := o.Workers
	if workers <= 0 {
		workers = 4
	}
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "backtest_optimizer", MaxWorkers: workers, MaxCapacity: len(sets)}, o.Logger)
	defer pool.Stop()

	trials := make([]Trial, len(sets))
	var wg sync.WaitGroup
	for i, params := range sets {
		i, params := i, params
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			trials[i] = o.evaluate(ctx, params, bars)
		}); err != nil {
			wg.Done()
			trials[i] = Trial{Params: params, Err: err}
		}
	}
	wg.Wait()

	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Score > trials[j].Score })
	return trials, nil
}

func (o *Optimizer) evaluate(ctx context.Context, params ParamSet, bars []Bar) Trial {
	strategy, execCtx := o.Build(params, bars)
	run := &Run{Strategy: strategy, Context: execCtx, Bars: bars, Logger: o.Logger}
	result, err := run.Execute(ctx)
	if err != nil {
		return Trial{Params: params, Err: err}
	}
	metrics := Compute(result, o.Timeframe)
	return Trial{Params: params, Metrics: metrics, Score: o.Score(metrics)}
}

// WalkForwardFold is one rolling window's in-sample optimum and its
// out-of-sample evaluation.
type WalkForwardFold struct {
	InSample     []Bar
	OutOfSample  []Bar
	BestParams   ParamSet
	InSampleRun  Trial
	OutOfSampleRun Trial
}

// ParamRobustness reports how consistent a parameter's chosen value was
// across folds: 1 - mean(coefficient_of_variation), per spec.
type ParamRobustness struct {
	Name        string
	Robustness  float64
}

// WalkForward partitions bars into numFolds rolling windows, each split
// into an inSampleFrac in-sample slice and an out-of-sample remainder,
// optimizes on the in-sample slice,
// evaluates the winner out-of-sample, and reports per-parameter
// robustness across folds.
func (o *Optimizer) WalkForward(ctx context.Context, bars []Bar, ranges []ParamRange, numFolds int, inSampleFrac float64) ([]WalkForwardFold, []ParamRobustness, error) {
	if numFolds <= 0 {
		return nil, nil, fmt.Errorf("walk-forward: num_folds must be positive")
	}
	if len(bars) < numFolds {
		return nil, nil, fmt.Errorf("walk-forward: fewer bars (%d) than folds (%d)", len(bars), numFolds)
	}

	windowSize := len(bars) / numFolds
	var folds []WalkForwardFold
	perParamValues := make(map[string][]decimal.Decimal)

	for f := 0; f < numFolds; f++ {
		start := f * windowSize
		end := start + windowSize
		if f == numFolds-1 {
			end = len(bars)
		}
		window := bars[start:end]
		splitIdx := int(float64(len(window)) * inSampleFrac)
		if splitIdx <= 0 || splitIdx >= len(window) {
			continue
		}
		inSample := window[:splitIdx]
		outOfSample := window[splitIdx:]

		trials, err := o.GridSearch(ctx, inSample, ranges)
		if err != nil {
			return nil, nil, fmt.Errorf("walk-forward fold %d in-sample: %w", f, err)
		}
		if len(trials) == 0 {
			continue
		}
		best := trials[0]
		oos := o.evaluate(ctx, best.Params, outOfSample)

		folds = append(folds, WalkForwardFold{
			InSample: inSample, OutOfSample: outOfSample, BestParams: best.Params,
			InSampleRun: best, OutOfSampleRun: oos,
		})
		for name, v := range best.Params {
			perParamValues[name] = append(perParamValues[name], v)
		}
	}

	var robustness []ParamRobustness
	var names []string
	for name := range perParamValues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cv := coefficientOfVariation(perParamValues[name])
		robustness = append(robustness, ParamRobustness{Name: name, Robustness: 1 - cv})
	}

	return folds, robustness, nil
}

func coefficientOfVariation(values []decimal.Decimal) float64 {
	if len(values) == 0 {
		return 0
	}
	floats := make([]float64, len(values))
	for i, v := range values {
		floats[i], _ = v.Float64()
	}
	m := mean(floats)
	if m == 0 {
		return 0
	}
	return stdev(floats) / math.Abs(m)
}
