package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	SessionID       string                  `json:"session_id"`
	Policy          string                  `json:"policy"`
	Config          map[string]any          `json:"config"`
	Profile         map[string]any          `json:"patient_profile"`
	Rounds          []FixtureRound          `json:"rounds"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureRound is one recorded round. Reward, when present, is sent as
// feedback after the round's decision.
type FixtureRound struct {
	RoundID     string             `json:"round_id"`
	Performance map[string]float64 `json:"performance_metrics"`
	Sensors     map[string]float64 `json:"sensor_data,omitempty"`
	Task        map[string]float64 `json:"task_state,omitempty"`
	Reward      *float64           `json:"reward,omitempty"`
}

// FixtureExpectedResult captures the expected action per round and, optionally,
// the difficulty after it.
type FixtureExpectedResult struct {
	RoundID    string   `json:"round_id"`
	Action     string   `json:"action"`
	Difficulty *float64 `json:"difficulty,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Policy == "" {
		return nil, fmt.Errorf("fixture %s: policy is required", path)
	}
	if f.SessionID == "" {
		f.SessionID = "replay"
	}
	return &f, nil
}

// ToSetup converts the fixture header to a session Setup.
func (f *Fixture) ToSetup() Setup {
	return Setup{
		SessionID: f.SessionID,
		Policy:    f.Policy,
		Config:    policy.Config(f.Config),
		Profile:   policy.Profile(f.Profile),
	}
}

// ToRounds converts the recorded rounds to harness rounds.
func (f *Fixture) ToRounds() []Round {
	out := make([]Round, len(f.Rounds))
	for i, fr := range f.Rounds {
		id := fr.RoundID
		if id == "" {
			id = fmt.Sprintf("round-%d", i+1)
		}
		out[i] = Round{
			RoundID: id,
			State: state.StateVector{
				Performance: fr.Performance,
				Sensors:     fr.Sensors,
				Task:        fr.Task,
			},
			Reward: fr.Reward,
		}
	}
	return out
}

// Compare checks results against the expected entries and returns one message
// per mismatch. Difficulties are compared to within 1e-6.
func (f *Fixture) Compare(results []Result) []string {
	var out []string
	if len(results) != len(f.ExpectedResults) {
		out = append(out, fmt.Sprintf("expected %d results, got %d", len(f.ExpectedResults), len(results)))
	}
	for i, want := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		got := results[i]
		if got.RoundID != want.RoundID {
			out = append(out, fmt.Sprintf("round %d: expected round_id=%s, got %s", i, want.RoundID, got.RoundID))
		}
		if string(got.Decision.Action) != want.Action {
			out = append(out, fmt.Sprintf("round %d (%s): expected action=%s, got %s (%s)",
				i, want.RoundID, want.Action, got.Decision.Action, got.Decision.Explanation))
		}
		if want.Difficulty != nil && math.Abs(got.Difficulty-*want.Difficulty) > 1e-6 {
			out = append(out, fmt.Sprintf("round %d (%s): expected difficulty=%.4f, got %.4f",
				i, want.RoundID, *want.Difficulty, got.Difficulty))
		}
	}
	return out
}

// #endregion fixture-loader
