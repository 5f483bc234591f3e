package policy

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region rule-config
// RuleBasedConfig holds threshold rule parameters.
type RuleBasedConfig struct {
	SuccessThreshold float64
	FailureThreshold float64
	IncreaseStep     float64
	DecreaseStep     float64
	PerformanceKey   string
	HistoryWindow    int // rounds averaged before thresholding
}

// DefaultRuleBasedConfig returns production defaults.
func DefaultRuleBasedConfig() RuleBasedConfig {
	return RuleBasedConfig{
		SuccessThreshold: 0.8,
		FailureThreshold: 0.4,
		IncreaseStep:     0.1,
		DecreaseStep:     0.15,
		PerformanceKey:   state.KeyAccuracy,
		HistoryWindow:    1,
	}
}

const ruleConfidence = 0.9

// #endregion rule-config

// #region rule-policy
// RuleBased applies fixed success/failure thresholds to one performance metric.
type RuleBased struct {
	cfg      RuleBasedConfig
	window   []float64
	last     *state.Decision
	lastPerf float64
}

// NewRuleBased returns a RuleBased policy with default configuration.
func NewRuleBased() *RuleBased {
	return &RuleBased{cfg: DefaultRuleBasedConfig()}
}

func (r *RuleBased) Name() string { return NameRuleBased }

// Initialize applies cfg over the defaults. A profile baseline_performance
// re-centres thresholds that cfg does not set explicitly.
func (r *RuleBased) Initialize(cfg Config, profile Profile) error {
	c := DefaultRuleBasedConfig()
	for key, dst := range map[string]*float64{
		"success_threshold": &c.SuccessThreshold,
		"failure_threshold": &c.FailureThreshold,
		"increase_step":     &c.IncreaseStep,
		"decrease_step":     &c.DecreaseStep,
	} {
		if err := cfg.Float(key, dst); err != nil {
			return err
		}
	}
	if err := cfg.String("performance_key", &c.PerformanceKey); err != nil {
		return err
	}
	if err := cfg.Int("history_window", &c.HistoryWindow); err != nil {
		return err
	}

	if profile.Has("baseline_performance") {
		var b float64
		if err := profile.Float("baseline_performance", &b); err != nil {
			return err
		}
		if !cfg.Has("success_threshold") {
			c.SuccessThreshold = math.Min(0.9, b+0.2)
		}
		if !cfg.Has("failure_threshold") {
			c.FailureThreshold = math.Max(0.3, b-0.2)
		}
	}

	if err := inUnit(map[string]float64{
		"success_threshold": c.SuccessThreshold,
		"failure_threshold": c.FailureThreshold,
		"increase_step":     c.IncreaseStep,
		"decrease_step":     c.DecreaseStep,
	}); err != nil {
		return err
	}
	if c.FailureThreshold >= c.SuccessThreshold {
		return invalidOption("failure_threshold", "must be below success_threshold (%v >= %v)",
			c.FailureThreshold, c.SuccessThreshold)
	}
	if c.HistoryWindow < 1 {
		return invalidOption("history_window", "must be at least 1, got %d", c.HistoryWindow)
	}
	if c.PerformanceKey == "" {
		return invalidOption("performance_key", "must not be empty")
	}

	r.cfg = c
	r.Reset()
	return nil
}

func (r *RuleBased) RequiredKeys() []string { return []string{r.cfg.PerformanceKey} }

// Config returns the effective configuration.
func (r *RuleBased) Config() RuleBasedConfig { return r.cfg }

// Decide thresholds the windowed mean performance.
func (r *RuleBased) Decide(sv state.StateVector) (state.Decision, error) {
	p, err := performance(sv, r.cfg.PerformanceKey)
	if err != nil {
		return state.Decision{}, err
	}
	r.window = append(r.window, p)
	if len(r.window) > r.cfg.HistoryWindow {
		r.window = r.window[len(r.window)-r.cfg.HistoryWindow:]
	}
	var sum float64
	for _, v := range r.window {
		sum += v
	}
	avg := sum / float64(len(r.window))

	var d state.Decision
	params := map[string]any{"performance": avg}
	switch {
	case avg >= r.cfg.SuccessThreshold:
		d = decisionFor(state.ActionIncrease, r.cfg.IncreaseStep, ruleConfidence,
			fmt.Sprintf("performance %.2f meets success threshold %.2f: increasing difficulty by %.2f",
				avg, r.cfg.SuccessThreshold, r.cfg.IncreaseStep), params)
	case avg <= r.cfg.FailureThreshold:
		d = decisionFor(state.ActionDecrease, -r.cfg.DecreaseStep, ruleConfidence,
			fmt.Sprintf("performance %.2f at or below failure threshold %.2f: decreasing difficulty by %.2f",
				avg, r.cfg.FailureThreshold, r.cfg.DecreaseStep), params)
	default:
		d = decisionFor(state.ActionMaintain, 0, ruleConfidence,
			fmt.Sprintf("performance %.2f within [%.2f, %.2f]: maintaining difficulty",
				avg, r.cfg.FailureThreshold, r.cfg.SuccessThreshold), params)
	}
	r.last = &d
	r.lastPerf = avg
	return d, nil
}

func (r *RuleBased) Metadata() Metadata {
	return Metadata{
		Name:         NameRuleBased,
		Version:      "1.0.0",
		Capabilities: []string{CapExplain},
		Details: map[string]any{
			"success_threshold": r.cfg.SuccessThreshold,
			"failure_threshold": r.cfg.FailureThreshold,
			"increase_step":     r.cfg.IncreaseStep,
			"decrease_step":     r.cfg.DecreaseStep,
			"history_window":    r.cfg.HistoryWindow,
		},
	}
}

func (r *RuleBased) Explain() map[string]any {
	if r.last == nil {
		return noDecisionYet()
	}
	return map[string]any{
		"method":      "threshold_rules",
		"action":      string(r.last.Action),
		"performance": r.lastPerf,
		"thresholds": map[string]any{
			"success": r.cfg.SuccessThreshold,
			"failure": r.cfg.FailureThreshold,
		},
		"confidence":  r.last.Confidence,
		"explanation": r.last.Explanation,
	}
}

func (r *RuleBased) Reset() {
	r.window = nil
	r.last = nil
	r.lastPerf = 0
}

// #endregion rule-policy
