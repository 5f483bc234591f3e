package policy

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region membership
// Trapezoid is a membership function with breakpoints a <= b <= c <= d.
// A shoulder (a == b or c == d) stays at 1 beyond its flat edge.
type Trapezoid [4]float64

// Degree returns the membership of x in [0,1].
func (t Trapezoid) Degree(x float64) float64 {
	a, b, c, d := t[0], t[1], t[2], t[3]
	switch {
	case x >= b && x <= c:
		return 1
	case x < b:
		if a == b {
			return 1
		}
		if x <= a {
			return 0
		}
		return (x - a) / (b - a)
	default:
		if c == d {
			return 1
		}
		if x >= d {
			return 0
		}
		return (d - x) / (d - c)
	}
}

func (t Trapezoid) valid() bool {
	return t[0] <= t[1] && t[1] <= t[2] && t[2] <= t[3]
}

// Membership holds the degree of one input in each linguistic term.
type Membership struct {
	Low, Medium, High float64
}

// Strongest returns the dominant term name and its degree.
func (m Membership) Strongest() (string, float64) {
	name, v := "medium", m.Medium
	if m.Low > v {
		name, v = "low", m.Low
	}
	if m.High > v {
		name, v = "high", m.High
	}
	return name, v
}

// #endregion membership

// #region fuzzy-config
// FuzzyConfig holds the inference parameters.
type FuzzyConfig struct {
	StepSize       float64
	SmoothFactor   float64 // 0 keeps no memory, 1 ignores new input
	Low            Trapezoid
	Medium         Trapezoid
	High           Trapezoid
	MaintainBand   float64
	Aggregate      bool
	PerformanceKey string
}

// DefaultFuzzyConfig returns production defaults.
func DefaultFuzzyConfig() FuzzyConfig {
	return FuzzyConfig{
		StepSize:       0.1,
		SmoothFactor:   0.3,
		Low:            Trapezoid{0, 0, 0.3, 0.5},
		Medium:         Trapezoid{0.3, 0.5, 0.5, 0.7},
		High:           Trapezoid{0.5, 0.7, 1, 1},
		MaintainBand:   0.01,
		PerformanceKey: state.KeyAccuracy,
	}
}

// #endregion fuzzy-config

// #region fuzzy-policy
// Fuzzy infers a difficulty change from three rules over performance:
// Low -> decrease, Medium -> maintain, High -> increase.
type Fuzzy struct {
	cfg      FuzzyConfig
	prev     float64 // last applied change, in [-step, step]
	last     *state.Decision
	lastPerf float64
	lastMem  Membership
}

// NewFuzzy returns a Fuzzy policy with default configuration.
func NewFuzzy() *Fuzzy {
	return &Fuzzy{cfg: DefaultFuzzyConfig()}
}

func (f *Fuzzy) Name() string { return NameFuzzy }

func (f *Fuzzy) Initialize(cfg Config, _ Profile) error {
	c := DefaultFuzzyConfig()
	if err := cfg.Float("step_size", &c.StepSize); err != nil {
		return err
	}
	if err := cfg.Float("smooth_factor", &c.SmoothFactor); err != nil {
		return err
	}
	if err := cfg.Float("maintain_band", &c.MaintainBand); err != nil {
		return err
	}
	if err := cfg.Bool("aggregate", &c.Aggregate); err != nil {
		return err
	}
	if err := cfg.String("performance_key", &c.PerformanceKey); err != nil {
		return err
	}
	for key, t := range map[string]*Trapezoid{"low": &c.Low, "medium": &c.Medium, "high": &c.High} {
		if err := cfg.Floats(key, 4, t[:]); err != nil {
			return err
		}
		if !t.valid() {
			return invalidOption(key, "breakpoints must be non-decreasing, got %v", *t)
		}
	}
	if err := inUnit(map[string]float64{
		"step_size":     c.StepSize,
		"smooth_factor": c.SmoothFactor,
		"maintain_band": c.MaintainBand,
	}); err != nil {
		return err
	}
	if c.PerformanceKey == "" {
		return invalidOption("performance_key", "must not be empty")
	}
	f.cfg = c
	f.Reset()
	return nil
}

func (f *Fuzzy) RequiredKeys() []string {
	if f.cfg.Aggregate {
		return []string{state.KeyAccuracy}
	}
	return []string{f.cfg.PerformanceKey}
}

// Config returns the effective configuration.
func (f *Fuzzy) Config() FuzzyConfig { return f.cfg }

// Fuzzify computes the membership of perf in each term.
func (f *Fuzzy) Fuzzify(perf float64) Membership {
	return Membership{
		Low:    f.cfg.Low.Degree(perf),
		Medium: f.cfg.Medium.Degree(perf),
		High:   f.cfg.High.Degree(perf),
	}
}

// Infer defuzzifies the rule outputs to a signed change in [-step, step].
func (f *Fuzzy) Infer(perf float64) float64 {
	m := f.Fuzzify(perf)
	sum := m.Low + m.Medium + m.High
	if sum == 0 {
		return 0
	}
	return (m.High - m.Low) * f.cfg.StepSize / sum
}

// Decide fuzzifies, defuzzifies and smooths against the previous applied change.
func (f *Fuzzy) Decide(sv state.StateVector) (state.Decision, error) {
	var perf float64
	if f.cfg.Aggregate {
		if err := state.Validate(sv, f.RequiredKeys()); err != nil {
			return state.Decision{}, err
		}
		perf = aggregatePerformance(sv)
	} else {
		p, err := performance(sv, f.cfg.PerformanceKey)
		if err != nil {
			return state.Decision{}, err
		}
		perf = p
	}

	m := f.Fuzzify(perf)
	raw := f.Infer(perf)
	smoothed := f.cfg.SmoothFactor*f.prev + (1-f.cfg.SmoothFactor)*raw

	action := state.ActionMaintain
	change := 0.0
	switch {
	case math.Abs(smoothed) < f.cfg.MaintainBand:
	case smoothed > 0:
		action, change = state.ActionIncrease, smoothed
	default:
		action, change = state.ActionDecrease, smoothed
	}
	term, conf := m.Strongest()

	d := decisionFor(action, change, conf, explainFuzzy(perf, term, action, conf), map[string]any{
		"performance": perf,
		"raw_change":  raw,
		"membership": map[string]any{
			"low":    m.Low,
			"medium": m.Medium,
			"high":   m.High,
		},
	})
	// Assume the proposal is applied until the engine reports otherwise.
	f.prev = change
	f.last = &d
	f.lastPerf = perf
	f.lastMem = m
	return d, nil
}

// ObserveApplied records the change that survived safety validation.
func (f *Fuzzy) ObserveApplied(change float64) {
	f.prev = state.Clamp(change, -f.cfg.StepSize, f.cfg.StepSize)
}

func (f *Fuzzy) Metadata() Metadata {
	return Metadata{
		Name:         NameFuzzy,
		Version:      "1.0.0",
		Capabilities: []string{CapExplain},
		Details: map[string]any{
			"step_size":     f.cfg.StepSize,
			"smooth_factor": f.cfg.SmoothFactor,
			"terms":         []any{"low", "medium", "high"},
			"rules":         3,
			"aggregate":     f.cfg.Aggregate,
		},
	}
}

func (f *Fuzzy) Explain() map[string]any {
	if f.last == nil {
		return noDecisionYet()
	}
	return map[string]any{
		"method":      "fuzzy_inference",
		"action":      string(f.last.Action),
		"performance": f.lastPerf,
		"membership": map[string]any{
			"low":    f.lastMem.Low,
			"medium": f.lastMem.Medium,
			"high":   f.lastMem.High,
		},
		"difficulty_change": f.last.DifficultyChange,
		"confidence":        f.last.Confidence,
		"explanation":       f.last.Explanation,
	}
}

func (f *Fuzzy) Reset() {
	f.prev = 0
	f.last = nil
	f.lastPerf = 0
	f.lastMem = Membership{}
}

// #endregion fuzzy-policy

// #region aggregate
// aggregatePerformance blends accuracy, success rate, error rate and reaction
// time (seconds, 2s and slower scores 0) into one score.
func aggregatePerformance(sv state.StateVector) float64 {
	acc := sv.Metric(state.KeyAccuracy, 0.5)
	success := sv.Metric("success_rate", acc)
	errRate := sv.Metric("error_rate", 1-acc)
	reaction := sv.Metric("reaction_time", 1)
	score := 0.4*acc + 0.3*success + 0.2*(1-errRate) + 0.1*math.Max(0, 1-reaction/2)
	return state.Clamp(score, 0, 1)
}

func explainFuzzy(perf float64, term string, action state.Action, conf float64) string {
	desc := map[string]string{"low": "below target", "medium": "on target", "high": "above target"}[term]
	verb := map[state.Action]string{
		state.ActionIncrease: "increasing",
		state.ActionDecrease: "decreasing",
		state.ActionMaintain: "maintaining",
	}[action]
	return fmt.Sprintf("performance %.1f%% is %s: %s difficulty (confidence %.0f%%)", perf*100, desc, verb, conf*100)
}

// #endregion aggregate
