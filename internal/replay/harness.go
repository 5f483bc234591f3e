package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region types
// Setup names the session a replay runs in.
type Setup struct {
	SessionID string
	Policy    string
	Config    policy.Config
	Profile   policy.Profile
}

// Round is a single recorded round for replay.
type Round struct {
	RoundID string
	State   state.StateVector
	Reward  *float64
}

// Result captures the validated decision for one round.
type Result struct {
	RoundID    string
	Decision   state.Decision
	Difficulty float64 // after the decision was applied
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalRounds     int
	Increases       int
	Decreases       int
	Maintains       int
	SafetyModified  int
	FinalDifficulty float64
}

// #endregion types

// #region replay
// Replay runs rounds through a fresh session on eng, ending it afterwards.
// The first failing round stops the run; results up to it are returned.
func Replay(ctx context.Context, eng *engine.Engine, setup Setup, rounds []Round) (_ []Result, err error) {
	if err := eng.InitializeSession(ctx, setup.SessionID, setup.Policy, setup.Config, setup.Profile); err != nil {
		return nil, fmt.Errorf("replay init: %w", err)
	}
	defer func() {
		err = errors.Join(err, eng.EndSession(ctx, setup.SessionID))
	}()

	results := make([]Result, 0, len(rounds))
	for _, r := range rounds {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		d, err := eng.ComputeAdaptation(setup.SessionID, r.State)
		if err != nil {
			return results, fmt.Errorf("round %s: %w", r.RoundID, err)
		}
		if r.Reward != nil {
			if err := eng.UpdateFeedback(setup.SessionID, *r.Reward); err != nil {
				return results, fmt.Errorf("round %s feedback: %w", r.RoundID, err)
			}
		}
		diff, err := eng.Difficulty(setup.SessionID)
		if err != nil {
			return results, err
		}
		results = append(results, Result{RoundID: r.RoundID, Decision: d, Difficulty: diff})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{TotalRounds: len(results)}
	for _, r := range results {
		switch r.Decision.Action {
		case state.ActionIncrease:
			s.Increases++
		case state.ActionDecrease:
			s.Decreases++
		default:
			s.Maintains++
		}
		if r.Decision.SafetyModified {
			s.SafetyModified++
		}
		s.FinalDifficulty = r.Difficulty
	}
	return s
}

// #endregion replay
