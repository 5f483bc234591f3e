package policy

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region names
// Registered policy names.
const (
	NameRuleBased = "rule_based"
	NameFuzzy     = "fuzzy_logic"
	NameQLearning = "reinforcement_learning"
)

// Capability flags reported in Metadata.
const (
	CapExplain    = "explain"
	CapLearning   = "learning"
	CapCheckpoint = "checkpoint"
)

// #endregion names

// #region interfaces
// Policy maps a StateVector to a raw, not yet safety-checked Decision.
// Implementations are not safe for concurrent use; the engine serializes
// calls per session.
type Policy interface {
	Name() string
	Initialize(cfg Config, profile Profile) error
	RequiredKeys() []string
	Decide(sv state.StateVector) (state.Decision, error)
	Metadata() Metadata
	Explain() map[string]any
	Reset()
}

// Learner is implemented by policies that consume an external reward.
type Learner interface {
	Feedback(reward float64)
}

// Checkpointer is implemented by policies with learned state worth persisting.
type Checkpointer interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// ChangeObserver receives the difficulty change that was actually applied
// after safety validation.
type ChangeObserver interface {
	ObserveApplied(change float64)
}

// Metadata describes a policy instance.
type Metadata struct {
	Name         string         `json:"policy_name"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	Details      map[string]any `json:"details,omitempty"`
}

// #endregion interfaces

// #region registry
// Constructor builds an uninitialized policy.
type Constructor func() Policy

// Registry resolves policy names (and aliases) to constructors.
type Registry struct {
	ctors   map[string]Constructor
	aliases map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors:   make(map[string]Constructor),
		aliases: make(map[string]string),
	}
}

// DefaultRegistry returns a fresh registry holding the three built-in policies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameRuleBased, func() Policy { return NewRuleBased() }, "rules", "rule")
	r.Register(NameFuzzy, func() Policy { return NewFuzzy() }, "fuzzy")
	r.Register(NameQLearning, func() Policy { return NewQLearning() }, "rl", "q_learning")
	return r
}

// Register adds a constructor under name plus optional aliases.
func (r *Registry) Register(name string, c Constructor, aliases ...string) {
	r.ctors[name] = c
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// Canonical resolves an alias to its registered name.
func (r *Registry) Canonical(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := r.ctors[n]; ok {
		return n, true
	}
	if c, ok := r.aliases[n]; ok {
		return c, true
	}
	return "", false
}

// New instantiates the policy registered under name.
func (r *Registry) New(name string) (Policy, error) {
	canon, ok := r.Canonical(name)
	if !ok {
		return nil, &state.UnknownPolicyError{Name: name, Known: r.Names()}
	}
	return r.ctors[canon](), nil
}

// Names lists registered canonical names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.ctors))
}

// #endregion registry

// #region config
// Config is a policy's option map, as decoded from YAML or the wire.
type Config map[string]any

// Profile is the patient profile passed at initialization.
type Profile map[string]any

// Merge returns base overlaid with over. Neither input is modified.
func Merge(base, over Config) Config {
	out := make(Config, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Float reads key into dst when present. dst is left unchanged when absent.
func (c Config) Float(key string, dst *float64) error {
	return readFloat(c, key, dst)
}

// String reads key into dst when present.
func (c Config) String(key string, dst *string) error {
	v, ok := c[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return invalidOption(key, "expected string, got %T", v)
	}
	*dst = s
	return nil
}

// Bool reads key into dst when present.
func (c Config) Bool(key string, dst *bool) error {
	v, ok := c[key]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return invalidOption(key, "expected bool, got %T", v)
	}
	*dst = b
	return nil
}

// Int reads a whole-number option into dst when present.
func (c Config) Int(key string, dst *int) error {
	f := float64(*dst)
	if err := readFloat(c, key, &f); err != nil {
		return err
	}
	if f != math.Trunc(f) {
		return invalidOption(key, "expected integer, got %v", f)
	}
	*dst = int(f)
	return nil
}

// Floats reads a numeric list of exactly n elements into dst when present.
func (c Config) Floats(key string, n int, dst []float64) error {
	v, ok := c[key]
	if !ok {
		return nil
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []float64:
		for _, f := range t {
			items = append(items, f)
		}
	default:
		return invalidOption(key, "expected list, got %T", v)
	}
	if len(items) != n {
		return invalidOption(key, "expected %d values, got %d", n, len(items))
	}
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return invalidOption(key, "element %d is not numeric", i)
		}
		dst[i] = f
	}
	return nil
}

// Float reads a profile value into dst when present.
func (p Profile) Float(key string, dst *float64) error {
	return readFloat(p, key, dst)
}

// Has reports whether key is set.
func (p Profile) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func readFloat(m map[string]any, key string, dst *float64) error {
	v, ok := m[key]
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return invalidOption(key, "expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return invalidOption(key, "must be finite")
	}
	*dst = f
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func invalidOption(key, format string, args ...any) error {
	return &state.ValidationError{
		Invalid: []string{key},
		Reason:  key + ": " + fmt.Sprintf(format, args...),
	}
}

// inUnit checks that each named value lies in [0,1].
func inUnit(vals map[string]float64) error {
	for _, k := range slices.Sorted(maps.Keys(vals)) {
		if v := vals[k]; v < 0 || v > 1 {
			return invalidOption(k, "must be in [0,1], got %v", v)
		}
	}
	return nil
}

// #endregion config

// #region helpers
// performance reads a required metric, failing validation when it is absent
// or non-finite.
func performance(sv state.StateVector, key string) (float64, error) {
	if err := state.Validate(sv, []string{key}); err != nil {
		return 0, err
	}
	return state.Clamp(sv.Performance[key], 0, 1), nil
}

func decisionFor(action state.Action, change, confidence float64, explanation string, params map[string]any) state.Decision {
	return state.Decision{
		Action:           action,
		Magnitude:        math.Min(1, math.Abs(change)),
		DifficultyChange: change,
		Parameters:       params,
		Confidence:       state.Clamp(confidence, 0, 1),
		Explanation:      explanation,
	}
}

func noDecisionYet() map[string]any {
	return map[string]any{"explanation": "no decision made yet"}
}

// #endregion helpers
