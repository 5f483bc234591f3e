package policy

import "github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"

// #region reward
// RewardConfig sets the flow band used by the shaped reward.
type RewardConfig struct {
	FlowMin float64
	FlowMax float64
}

// DefaultRewardConfig returns the 0.5-0.7 flow band.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{FlowMin: 0.5, FlowMax: 0.7}
}

// Reward scores action a, taken at performance before, given the performance
// observed on the following round.
func Reward(before, after float64, a state.Action, cfg RewardConfig) float64 {
	r := 0.5 * (after - before)
	if after >= cfg.FlowMin && after <= cfg.FlowMax {
		r += 0.2
	}
	if before >= 0.6 && before <= 0.8 && a == state.ActionMaintain {
		r += 0.1
	}
	if a == HeuristicAction(before) {
		r += 0.15
	}
	if (before < 0.3 && a != state.ActionDecrease) || (before > 0.9 && a != state.ActionIncrease) {
		r -= 0.1
	}
	return r
}

// HeuristicAction is the threshold rule the reward compares against.
func HeuristicAction(perf float64) state.Action {
	switch {
	case perf < 0.4:
		return state.ActionDecrease
	case perf > 0.8:
		return state.ActionIncrease
	}
	return state.ActionMaintain
}

// #endregion reward
