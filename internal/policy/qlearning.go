package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region q-config
// QLearningConfig holds the learner's hyperparameters.
type QLearningConfig struct {
	LearningRate    float64
	DiscountFactor  float64
	ExplorationRate float64 // initial epsilon
	EpsilonDecay    float64
	EpsilonMin      float64
	ActionStep      float64
	Reward          RewardConfig
	PerformanceKey  string
	HistoryLen      int
	Seed            *uint64 // nil seeds from the runtime source
}

// DefaultQLearningConfig returns production defaults.
func DefaultQLearningConfig() QLearningConfig {
	return QLearningConfig{
		LearningRate:    0.1,
		DiscountFactor:  0.9,
		ExplorationRate: 0.2,
		EpsilonDecay:    0.995,
		EpsilonMin:      0.01,
		ActionStep:      0.15,
		Reward:          DefaultRewardConfig(),
		PerformanceKey:  state.KeyAccuracy,
		HistoryLen:      10,
	}
}

// #endregion q-config

// #region q-policy
type transition struct {
	from   StateKey
	action state.Action
	perf   float64
	reward *float64 // external reward, if one arrived before the next round
}

// QLearning is a tabular epsilon-greedy learner over the 150-state space.
// The update for a round is applied when the next round reveals s'.
type QLearning struct {
	cfg     QLearningConfig
	table   *QTable
	epsilon float64
	rng     *rand.Rand
	history []float64
	pending *transition
	updates int

	last     *state.Decision
	lastKey  StateKey
	explored bool
}

// NewQLearning returns a learner with default configuration.
func NewQLearning() *QLearning {
	q := &QLearning{cfg: DefaultQLearningConfig()}
	q.rng = newRand(nil)
	q.Reset()
	return q
}

func newRand(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (q *QLearning) Name() string { return NameQLearning }

func (q *QLearning) Initialize(cfg Config, _ Profile) error {
	c := DefaultQLearningConfig()
	for key, dst := range map[string]*float64{
		"learning_rate":    &c.LearningRate,
		"discount_factor":  &c.DiscountFactor,
		"exploration_rate": &c.ExplorationRate,
		"epsilon_decay":    &c.EpsilonDecay,
		"epsilon_min":      &c.EpsilonMin,
		"action_step":      &c.ActionStep,
		"flow_min":         &c.Reward.FlowMin,
		"flow_max":         &c.Reward.FlowMax,
	} {
		if err := cfg.Float(key, dst); err != nil {
			return err
		}
	}
	if err := cfg.String("performance_key", &c.PerformanceKey); err != nil {
		return err
	}
	if err := cfg.Int("history_len", &c.HistoryLen); err != nil {
		return err
	}
	if cfg.Has("seed") {
		s := 0
		if err := cfg.Int("seed", &s); err != nil {
			return err
		}
		seed := uint64(s)
		c.Seed = &seed
	}

	if err := inUnit(map[string]float64{
		"learning_rate":    c.LearningRate,
		"discount_factor":  c.DiscountFactor,
		"exploration_rate": c.ExplorationRate,
		"epsilon_decay":    c.EpsilonDecay,
		"epsilon_min":      c.EpsilonMin,
		"action_step":      c.ActionStep,
		"flow_min":         c.Reward.FlowMin,
		"flow_max":         c.Reward.FlowMax,
	}); err != nil {
		return err
	}
	if c.EpsilonMin > c.ExplorationRate {
		return invalidOption("epsilon_min", "must not exceed exploration_rate (%v > %v)", c.EpsilonMin, c.ExplorationRate)
	}
	if c.Reward.FlowMin > c.Reward.FlowMax {
		return invalidOption("flow_min", "must not exceed flow_max")
	}
	if c.HistoryLen < 2 {
		return invalidOption("history_len", "must be at least 2, got %d", c.HistoryLen)
	}
	if c.PerformanceKey == "" {
		return invalidOption("performance_key", "must not be empty")
	}

	q.cfg = c
	q.rng = newRand(c.Seed)
	q.Reset()
	return nil
}

func (q *QLearning) RequiredKeys() []string { return []string{q.cfg.PerformanceKey} }

// Config returns the effective configuration.
func (q *QLearning) Config() QLearningConfig { return q.cfg }

// Epsilon returns the current exploration rate.
func (q *QLearning) Epsilon() float64 { return q.epsilon }

// Table exposes the Q-table for inspection.
func (q *QLearning) Table() *QTable { return q.table }

// Updates returns the number of completed Bellman updates.
func (q *QLearning) Updates() int { return q.updates }

// Decide completes the pending update, then picks an epsilon-greedy action.
func (q *QLearning) Decide(sv state.StateVector) (state.Decision, error) {
	perf, err := performance(sv, q.cfg.PerformanceKey)
	if err != nil {
		return state.Decision{}, err
	}
	key := Discretize(perf, sv.Difficulty(), TrendOf(q.history))

	if p := q.pending; p != nil {
		r := Reward(p.perf, perf, p.action, q.cfg.Reward)
		if p.reward != nil {
			r = *p.reward
		}
		q.update(p.from, p.action, r, key)
		q.pending = nil
	}

	action := q.table.Best(key)
	q.explored = q.rng.Float64() < q.epsilon
	if q.explored {
		action = state.Actions[q.rng.IntN(len(state.Actions))]
	}

	change := 0.0
	switch action {
	case state.ActionIncrease:
		change = q.cfg.ActionStep
	case state.ActionDecrease:
		change = -q.cfg.ActionStep
	}

	q.history = append(q.history, perf)
	if len(q.history) > q.cfg.HistoryLen {
		q.history = q.history[len(q.history)-q.cfg.HistoryLen:]
	}
	q.pending = &transition{from: key, action: action, perf: perf}
	q.lastKey = key

	mode := "exploiting"
	if q.explored {
		mode = "exploring"
	}
	row := q.table.Row(key)
	d := decisionFor(action, change, 1-q.epsilon,
		fmt.Sprintf("%s: state (perf %d, difficulty %d, trend %s) chose %s, Q=%.3f",
			mode, key.Perf, key.Diff, trendName(key.Trend), action, row[action.Index()]),
		map[string]any{
			"epsilon":   q.epsilon,
			"state":     []any{key.Perf, key.Diff, key.Trend},
			"q_values":  qValues(row),
			"exploring": q.explored,
		})
	q.last = &d
	return d, nil
}

// Feedback attaches an external reward to the pending transition. It replaces
// the shaped reward when the next round completes the update.
func (q *QLearning) Feedback(reward float64) {
	if q.pending == nil {
		return
	}
	r := reward
	q.pending.reward = &r
}

// ObserveApplied credits the pending transition with the action that was
// actually applied after safety validation.
func (q *QLearning) ObserveApplied(change float64) {
	if q.pending == nil {
		return
	}
	switch {
	case change > 0:
		q.pending.action = state.ActionIncrease
	case change < 0:
		q.pending.action = state.ActionDecrease
	default:
		q.pending.action = state.ActionMaintain
	}
}

func (q *QLearning) update(s StateKey, a state.Action, r float64, next StateKey) {
	cur := q.table.Get(s, a)
	target := r + q.cfg.DiscountFactor*q.table.Max(next)
	q.table.Set(s, a, cur+q.cfg.LearningRate*(target-cur))
	q.epsilon = max(q.cfg.EpsilonMin, q.epsilon*q.cfg.EpsilonDecay)
	q.updates++
}

func (q *QLearning) Metadata() Metadata {
	return Metadata{
		Name:         NameQLearning,
		Version:      "1.0.0",
		Capabilities: []string{CapExplain, CapLearning, CapCheckpoint},
		Details: map[string]any{
			"learning_rate":   q.cfg.LearningRate,
			"discount_factor": q.cfg.DiscountFactor,
			"epsilon":         q.epsilon,
			"epsilon_min":     q.cfg.EpsilonMin,
			"states_visited":  q.table.Len(),
			"state_space":     PerfBins * DiffBins * TrendBins,
			"updates":         q.updates,
		},
	}
}

func (q *QLearning) Explain() map[string]any {
	if q.last == nil {
		return noDecisionYet()
	}
	mode := "exploiting"
	if q.explored {
		mode = "exploring"
	}
	return map[string]any{
		"method":      "q_learning",
		"action":      string(q.last.Action),
		"state":       []any{q.lastKey.Perf, q.lastKey.Diff, q.lastKey.Trend},
		"q_values":    qValues(q.table.Row(q.lastKey)),
		"epsilon":     q.epsilon,
		"mode":        mode,
		"confidence":  q.last.Confidence,
		"explanation": q.last.Explanation,
	}
}

// Reset clears the table, history and pending update and restores the initial epsilon.
func (q *QLearning) Reset() {
	q.table = NewQTable()
	q.epsilon = q.cfg.ExplorationRate
	q.history = nil
	q.pending = nil
	q.updates = 0
	q.last = nil
	q.lastKey = StateKey{}
	q.explored = false
}

func qValues(row [3]float64) map[string]any {
	out := make(map[string]any, len(row))
	for _, a := range state.Actions {
		out[string(a)] = row[a.Index()]
	}
	return out
}

func trendName(t int) string {
	switch t {
	case TrendDeclining:
		return "declining"
	case TrendImproving:
		return "improving"
	}
	return "stable"
}

// #endregion q-policy
