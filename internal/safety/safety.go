package safety

import (
	"fmt"
	"maps"
	"math"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region wrapper
// Wrapper validates policy decisions against a session's bounds.
// It holds no state beyond its bounds and is safe for concurrent use.
type Wrapper struct {
	bounds Bounds
}

// NewWrapper creates a wrapper with the given bounds.
func NewWrapper(b Bounds) *Wrapper {
	return &Wrapper{bounds: b}
}

// Bounds returns the configured limits.
func (w *Wrapper) Bounds() Bounds { return w.bounds }

// Validate applies overrides in order: invalid output, low confidence, sign,
// rate limit, range, feasibility. current is clamped into the bounds first.
// The returned decision always satisfies the action/change sign invariant.
func (w *Wrapper) Validate(raw state.Decision, current float64) Result {
	b := w.bounds
	cur := state.Clamp(current, b.DifficultyMin, b.DifficultyMax)
	d := raw
	d.Parameters = maps.Clone(raw.Parameters)
	var vs []Violation

	override := func(t ViolationType, after float64, format string, args ...any) {
		vs = append(vs, Violation{
			Type:   t,
			Reason: fmt.Sprintf(format, args...),
			Before: d.DifficultyChange,
			After:  after,
		})
		d.DifficultyChange = after
	}

	// 1. Non-finite or unknown output cannot be trusted at all.
	if !finite(raw.DifficultyChange) || !finite(raw.Confidence) || raw.Action.Index() < 0 {
		d.DifficultyChange = 0
		vs = append(vs, Violation{
			Type:   ViolationInvalidOutput,
			Reason: fmt.Sprintf("unusable policy output (action %q, change %v, confidence %v)", raw.Action, raw.DifficultyChange, raw.Confidence),
		})
		d.Action = state.ActionMaintain
		d.Confidence = 0
		return w.finish(d, cur, vs)
	}

	// 2. Low confidence.
	if d.Confidence < b.MinConfidence {
		override(ViolationLowConfidence, 0, "confidence %.2f below minimum %.2f", d.Confidence, b.MinConfidence)
		d.Action = state.ActionMaintain
		d.Explanation = fmt.Sprintf("original confidence too low (%.2f); maintaining difficulty", raw.Confidence)
		return w.finish(d, cur, vs)
	}

	// 3. Sign must agree with action.
	if mismatched(d.Action, d.DifficultyChange) {
		override(ViolationSignMismatch, 0, "change %+.3f disagrees with action %s", d.DifficultyChange, d.Action)
	}

	// 4. Rate limit.
	if math.Abs(d.DifficultyChange) > b.MaxStep {
		override(ViolationRateLimit, math.Copysign(b.MaxStep, d.DifficultyChange),
			"|change| %.3f exceeds max step %.3f", math.Abs(d.DifficultyChange), b.MaxStep)
	}

	// 5. Range.
	if target := cur + d.DifficultyChange; target < b.DifficultyMin || target > b.DifficultyMax {
		clamped := state.Clamp(target, b.DifficultyMin, b.DifficultyMax)
		override(ViolationBounds, clamped-cur,
			"difficulty %.3f outside [%.2f, %.2f], clamped to %.3f", target, b.DifficultyMin, b.DifficultyMax, clamped)
	}

	// 6. A directional action with nothing left to apply becomes maintain.
	if d.Action != state.ActionMaintain && d.DifficultyChange == 0 {
		vs = append(vs, Violation{
			Type:   ViolationInfeasible,
			Reason: fmt.Sprintf("cannot %s difficulty from %.3f", d.Action, cur),
		})
		d.Action = state.ActionMaintain
		d.Explanation = fmt.Sprintf("action not feasible at difficulty %.3f; maintaining", cur)
	}

	return w.finish(d, cur, vs)
}

func (w *Wrapper) finish(d state.Decision, cur float64, vs []Violation) Result {
	next := state.Clamp(cur+d.DifficultyChange, w.bounds.DifficultyMin, w.bounds.DifficultyMax)
	if d.DifficultyChange == 0 {
		next = cur
	}
	d.Magnitude = math.Min(1, math.Abs(d.DifficultyChange))
	if d.Parameters == nil {
		d.Parameters = make(map[string]any, 1)
	}
	d.Parameters[state.KeyDifficulty] = next
	if len(vs) > 0 {
		d.SafetyModified = true
		d.Annotations = make([]string, 0, len(vs))
		for _, v := range vs {
			d.Annotations = append(d.Annotations, v.Annotation())
		}
	}
	return Result{Decision: d, Violations: vs, NewDifficulty: next}
}

func mismatched(a state.Action, change float64) bool {
	switch a {
	case state.ActionIncrease:
		return change < 0
	case state.ActionDecrease:
		return change > 0
	}
	return change != 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion wrapper
