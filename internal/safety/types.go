package safety

import (
	"fmt"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region violation-type
// ViolationType enumerates safety override categories.
type ViolationType string

const (
	ViolationInvalidOutput ViolationType = "invalid_output"
	ViolationLowConfidence ViolationType = "low_confidence"
	ViolationSignMismatch  ViolationType = "sign_mismatch"
	ViolationRateLimit     ViolationType = "rate_limit"
	ViolationBounds        ViolationType = "parameter_bounds"
	ViolationInfeasible    ViolationType = "infeasible_action"
)

// #endregion violation-type

// #region violation
// Violation records one override applied to a policy decision.
type Violation struct {
	Type   ViolationType
	Reason string
	Before float64 // difficulty_change before this override
	After  float64 // difficulty_change after it
}

// Annotation renders v for the decision's annotation list.
func (v Violation) Annotation() string {
	return fmt.Sprintf("%s: %s", v.Type, v.Reason)
}

// #endregion violation

// #region bounds
// Bounds holds per-session clinical limits.
type Bounds struct {
	DifficultyMin float64
	DifficultyMax float64
	MaxStep       float64 // max |difficulty_change| per round
	MinConfidence float64
}

// DefaultBounds returns the full difficulty range with a 0.2 rate limit.
func DefaultBounds() Bounds {
	return Bounds{
		DifficultyMin: 0,
		DifficultyMax: 1,
		MaxStep:       0.2,
		MinConfidence: 0.3,
	}
}

// BoundsFromConfig overlays difficulty_min, difficulty_max, max_step and
// min_confidence from cfg onto base.
func BoundsFromConfig(cfg policy.Config, base Bounds) (Bounds, error) {
	b := base
	for key, dst := range map[string]*float64{
		"difficulty_min": &b.DifficultyMin,
		"difficulty_max": &b.DifficultyMax,
		"max_step":       &b.MaxStep,
		"min_confidence": &b.MinConfidence,
	} {
		if err := cfg.Float(key, dst); err != nil {
			return Bounds{}, err
		}
	}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// Validate checks that the bounds describe a usable range.
func (b Bounds) Validate() error {
	switch {
	case b.DifficultyMin < 0 || b.DifficultyMax > 1:
		return invalid("difficulty_min", "difficulty range [%v, %v] must lie within [0,1]", b.DifficultyMin, b.DifficultyMax)
	case b.DifficultyMin >= b.DifficultyMax:
		return invalid("difficulty_max", "difficulty_max %v must exceed difficulty_min %v", b.DifficultyMax, b.DifficultyMin)
	case b.MaxStep <= 0 || b.MaxStep > 1:
		return invalid("max_step", "max_step %v must be in (0,1]", b.MaxStep)
	case b.MinConfidence < 0 || b.MinConfidence > 1:
		return invalid("min_confidence", "min_confidence %v must be in [0,1]", b.MinConfidence)
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return &state.ValidationError{Invalid: []string{key}, Reason: fmt.Sprintf(format, args...)}
}

// #endregion bounds

// #region result
// Result is the validated decision plus every override that fired.
type Result struct {
	Decision      state.Decision
	Violations    []Violation
	NewDifficulty float64
}

// Modified reports whether any override fired.
func (r Result) Modified() bool { return len(r.Violations) > 0 }

// #endregion result

// #region stats
// Stats counts violations by type.
type Stats map[ViolationType]int

// Record adds vs to the counts.
func (s Stats) Record(vs []Violation) {
	for _, v := range vs {
		s[v.Type]++
	}
}

// Total returns the number of recorded violations.
func (s Stats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// #endregion stats
