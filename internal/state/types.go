package state

import (
	"maps"
	"time"
)

// #region action
// Action is the direction of a difficulty adjustment.
type Action string

const (
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
	ActionMaintain Action = "maintain"
)

// Actions lists every action in Q-table column order.
var Actions = [3]Action{ActionIncrease, ActionMaintain, ActionDecrease}

// Index returns the Q-table column for a, or -1 for an unknown action.
func (a Action) Index() int {
	switch a {
	case ActionIncrease:
		return 0
	case ActionMaintain:
		return 1
	case ActionDecrease:
		return 2
	}
	return -1
}

// ParseAction converts a wire string into an Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	return a, a.Index() >= 0
}

// #endregion action

// #region keys
// Well-known map keys shared by policies and transport.
const (
	KeyDifficulty       = "difficulty"
	KeyDifficultyChange = "difficulty_change"
	KeyAccuracy         = "accuracy"
)

// #endregion keys

// #region state-vector
// StateVector is an immutable snapshot of one round of task performance.
// Task must carry KeyDifficulty; the engine injects it when the caller omits it.
type StateVector struct {
	SessionID   string
	Timestamp   time.Time
	Performance map[string]float64
	Sensors     map[string]float64
	Task        map[string]float64
}

// Metric returns a performance metric or fallback when absent.
func (s StateVector) Metric(key string, fallback float64) float64 {
	if v, ok := s.Performance[key]; ok {
		return v
	}
	return fallback
}

// Difficulty returns Task[KeyDifficulty], defaulting to 0.5.
func (s StateVector) Difficulty() float64 {
	if v, ok := s.Task[KeyDifficulty]; ok {
		return v
	}
	return 0.5
}

// WithDifficulty returns a copy whose Task map carries difficulty d.
// The receiver's maps are not modified.
func (s StateVector) WithDifficulty(d float64) StateVector {
	out := s
	out.Task = maps.Clone(s.Task)
	if out.Task == nil {
		out.Task = make(map[string]float64, 1)
	}
	out.Task[KeyDifficulty] = d
	return out
}

// #endregion state-vector

// #region decision
// Decision is a policy's recommendation for the next round.
// DifficultyChange is the signed difficulty_change parameter; its sign must agree
// with Action once the decision has passed through the safety layer.
type Decision struct {
	Action           Action
	Magnitude        float64 // |DifficultyChange|, in [0,1]
	DifficultyChange float64
	Parameters       map[string]any // policy-specific extras
	Confidence       float64
	Explanation      string

	SafetyModified bool
	Annotations    []string // one entry per safety override
}

// Params returns the wire parameter map: Parameters plus difficulty_change.
func (d Decision) Params() map[string]any {
	out := make(map[string]any, len(d.Parameters)+1)
	for k, v := range d.Parameters {
		out[k] = v
	}
	out[KeyDifficultyChange] = d.DifficultyChange
	return out
}

// Maintain builds a zero-change decision.
func Maintain(confidence float64, explanation string) Decision {
	return Decision{
		Action:      ActionMaintain,
		Confidence:  confidence,
		Explanation: explanation,
	}
}

// #endregion decision

// #region history
// Round pairs a state with the validated decision made for it.
type Round struct {
	State      StateVector
	Decision   Decision
	Difficulty float64 // difficulty after the decision was applied
	At         time.Time
}

// #endregion history
