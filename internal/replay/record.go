package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region record
// Record plays p through a fresh session for n rounds and captures the
// observed accuracies and resulting decisions as a fixture. A seed is pinned
// when setup.Config has none so the fixture replays deterministically.
// Accuracies are rounded to four decimals before they reach the engine.
func Record(ctx context.Context, eng *engine.Engine, setup Setup, p *Patient, n int) (_ *Fixture, err error) {
	if n <= 0 {
		return nil, fmt.Errorf("record: rounds must be positive, got %d", n)
	}
	cfg := setup.Config
	if !cfg.Has("seed") {
		cfg = policy.Merge(cfg, policy.Config{"seed": 1})
	}
	if err := eng.InitializeSession(ctx, setup.SessionID, setup.Policy, cfg, setup.Profile); err != nil {
		return nil, fmt.Errorf("record init: %w", err)
	}
	defer func() {
		err = errors.Join(err, eng.EndSession(ctx, setup.SessionID))
	}()

	difficulty, err := eng.Difficulty(setup.SessionID)
	if err != nil {
		return nil, err
	}
	f := &Fixture{
		SessionID: setup.SessionID,
		Policy:    setup.Policy,
		Config:    map[string]any(cfg),
		Profile:   map[string]any(setup.Profile),
	}
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := fmt.Sprintf("round-%d", i+1)
		perf := map[string]float64{state.KeyAccuracy: math.Round(p.Perform(difficulty)*1e4) / 1e4}
		d, err := eng.ComputeAdaptation(setup.SessionID, state.StateVector{Performance: perf})
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		if difficulty, err = eng.Difficulty(setup.SessionID); err != nil {
			return nil, err
		}
		want := difficulty
		f.Rounds = append(f.Rounds, FixtureRound{RoundID: id, Performance: perf})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			RoundID:    id,
			Action:     string(d.Action),
			Difficulty: &want,
		})
	}
	return f, nil
}

// WriteFixture encodes f as indented JSON.
func WriteFixture(w io.Writer, f *Fixture) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	return nil
}

// #endregion record
