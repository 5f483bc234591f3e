package policy

import (
	"cmp"
	"maps"
	"slices"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region discretize
// State space dimensions.
const (
	PerfBins  = 10
	DiffBins  = 5
	TrendBins = 3
)

// Trend bins.
const (
	TrendDeclining = 0
	TrendStable    = 1
	TrendImproving = 2
)

const trendThreshold = 0.05

// StateKey is a discretized (performance, difficulty, trend) triple.
type StateKey struct {
	Perf, Diff, Trend int
}

// Valid reports whether every component lies inside the state space.
func (k StateKey) Valid() bool {
	return k.Perf >= 0 && k.Perf < PerfBins &&
		k.Diff >= 0 && k.Diff < DiffBins &&
		k.Trend >= 0 && k.Trend < TrendBins
}

// Discretize bins performance and difficulty; both are clamped to [0,1].
func Discretize(perf, diff float64, trend int) StateKey {
	return StateKey{
		Perf:  bin(perf, PerfBins),
		Diff:  bin(diff, DiffBins),
		Trend: trend,
	}
}

func bin(v float64, n int) int {
	return min(int(state.Clamp(v, 0, 1)*float64(n)), n-1)
}

// TrendOf compares the mean of the last three values with the mean of the
// ones before. With nothing before, the first value is the baseline rather
// than a fixed 0.5, so learning curves differ from a 0.5-baseline learner
// for the first three rounds.
func TrendOf(history []float64) int {
	if len(history) < 2 {
		return TrendStable
	}
	split := max(len(history)-3, 0)
	recent := history[split:]
	older := history[:split]
	if len(older) == 0 {
		older = history[:1]
	}
	diff := mean(recent) - mean(older)
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	}
	return TrendStable
}

func mean(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

// #endregion discretize

// #region qtable
// greedyOrder is the tie-break preference among equal Q-values.
var greedyOrder = [3]state.Action{state.ActionMaintain, state.ActionIncrease, state.ActionDecrease}

// QTable maps visited states to per-action estimates. Unvisited states read as zero.
type QTable struct {
	values map[StateKey]*[3]float64
}

// NewQTable returns an empty table.
func NewQTable() *QTable {
	return &QTable{values: make(map[StateKey]*[3]float64)}
}

// Get returns Q(s,a), zero when s has never been written.
func (q *QTable) Get(s StateKey, a state.Action) float64 {
	row, ok := q.values[s]
	if !ok {
		return 0
	}
	return row[a.Index()]
}

// Row returns a copy of the estimates for s, indexed by Action.Index.
func (q *QTable) Row(s StateKey) [3]float64 {
	if row, ok := q.values[s]; ok {
		return *row
	}
	return [3]float64{}
}

// Set writes Q(s,a), creating the row on first use.
func (q *QTable) Set(s StateKey, a state.Action, v float64) {
	row, ok := q.values[s]
	if !ok {
		row = new([3]float64)
		q.values[s] = row
	}
	row[a.Index()] = v
}

// Max returns max_a Q(s,a).
func (q *QTable) Max(s StateKey) float64 {
	row := q.Row(s)
	return max(row[0], row[1], row[2])
}

// Best returns the greedy action for s, ties resolved maintain > increase > decrease.
func (q *QTable) Best(s StateKey) state.Action {
	row := q.Row(s)
	best := greedyOrder[0]
	for _, a := range greedyOrder[1:] {
		if row[a.Index()] > row[best.Index()] {
			best = a
		}
	}
	return best
}

// Len returns the number of visited states.
func (q *QTable) Len() int { return len(q.values) }

// Keys returns visited states in (perf, diff, trend) order.
func (q *QTable) Keys() []StateKey {
	return slices.SortedFunc(maps.Keys(q.values), func(a, b StateKey) int {
		return cmp.Or(cmp.Compare(a.Perf, b.Perf), cmp.Compare(a.Diff, b.Diff), cmp.Compare(a.Trend, b.Trend))
	})
}

// #endregion qtable
