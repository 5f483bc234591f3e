package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// helper: engine with default options.
func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.DefaultOptions())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

// helper: round with a single accuracy metric.
func accRound(id string, acc float64) Round {
	return Round{RoundID: id, State: state.StateVector{Performance: map[string]float64{"accuracy": acc}}}
}

// 1. Invalid round stops the replay and returns the rounds before it.
func TestReplay_StopsOnInvalidRound(t *testing.T) {
	eng := newEngine(t)
	rounds := []Round{
		accRound("r1", 0.9),
		{RoundID: "r2", State: state.StateVector{Performance: map[string]float64{"speed": 1}}},
		accRound("r3", 0.9),
	}
	results, err := Replay(context.Background(), eng, Setup{SessionID: "s", Policy: "rule_based"}, rounds)
	var ve *state.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(results) != 1 || results[0].RoundID != "r1" {
		t.Fatalf("expected the first round only, got %+v", results)
	}
	if len(eng.Sessions()) != 0 {
		t.Fatal("session should be ended even after a failure")
	}
}

// 2. Unknown policy fails before any round runs.
func TestReplay_UnknownPolicy(t *testing.T) {
	_, err := Replay(context.Background(), newEngine(t), Setup{SessionID: "s", Policy: "oracle"}, nil)
	var up *state.UnknownPolicyError
	if !errors.As(err, &up) {
		t.Fatalf("expected UnknownPolicyError, got %v", err)
	}
}

// 3. Rewards reach learning policies without error.
func TestReplay_RewardsToLearner(t *testing.T) {
	r := 0.8
	rounds := []Round{accRound("r1", 0.6), accRound("r2", 0.65)}
	rounds[0].Reward = &r
	results, err := Replay(context.Background(), newEngine(t),
		Setup{SessionID: "rl", Policy: "rl", Config: policy.Config{"seed": 3}}, rounds)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

// 4. Cancelled context stops before the first round.
func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := newEngine(t)
	results, err := Replay(ctx, eng, Setup{SessionID: "s", Policy: "rule_based"}, []Round{accRound("r1", 0.5)})
	if !errors.Is(err, context.Canceled) || len(results) != 0 {
		t.Fatalf("expected context.Canceled and no results, got %v / %d", err, len(results))
	}
}

// 5. Summary counts.
func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{Decision: state.Decision{Action: state.ActionIncrease}, Difficulty: 0.6},
		{Decision: state.Decision{Action: state.ActionMaintain, SafetyModified: true}, Difficulty: 0.6},
		{Decision: state.Decision{Action: state.ActionDecrease}, Difficulty: 0.45},
	})
	want := Summary{TotalRounds: 3, Increases: 1, Decreases: 1, Maintains: 1, SafetyModified: 1, FinalDifficulty: 0.45}
	if s != want {
		t.Fatalf("got %+v, want %+v", s, want)
	}
	if (Summarize(nil) != Summary{}) {
		t.Fatal("empty results should give a zero summary")
	}
}
