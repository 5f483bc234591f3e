package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region fixture-tests

// TestFixture_RuleBasedSession replays the recorded rule-based session and
// compares each round's action and difficulty against the fixture. If
// thresholds, steps or safety limits drift, this catches it.
func TestFixture_RuleBasedSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "rule_based_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	eng, err := engine.New(engine.DefaultOptions())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	results, err := Replay(context.Background(), eng, f.ToSetup(), f.ToRounds())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, msg := range f.Compare(results) {
		t.Error(msg)
	}

	s := Summarize(results)
	if s.TotalRounds != 9 || s.Increases != 4 || s.Decreases != 3 || s.Maintains != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.SafetyModified != 1 || s.FinalDifficulty != 1 {
		t.Errorf("expected one safety override ending at 1.0, got %+v", s)
	}
	if len(eng.Sessions()) != 0 {
		t.Error("replay should end its session")
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := LoadFixture(bad); err == nil {
		t.Fatal("expected parse error")
	}

	nopolicy := filepath.Join(dir, "nopolicy.json")
	os.WriteFile(nopolicy, []byte(`{"rounds": []}`), 0o644)
	if _, err := LoadFixture(nopolicy); err == nil || !strings.Contains(err.Error(), "policy") {
		t.Fatalf("expected policy required error, got %v", err)
	}
}

func TestToRounds_DefaultIDs(t *testing.T) {
	f := &Fixture{Policy: "fuzzy", Rounds: []FixtureRound{
		{Performance: map[string]float64{"accuracy": 0.5}},
		{RoundID: "named", Performance: map[string]float64{"accuracy": 0.6}},
	}}
	rounds := f.ToRounds()
	if rounds[0].RoundID != "round-1" || rounds[1].RoundID != "named" {
		t.Fatalf("unexpected round ids %q, %q", rounds[0].RoundID, rounds[1].RoundID)
	}
	if rounds[1].State.Performance[state.KeyAccuracy] != 0.6 {
		t.Fatal("performance not carried over")
	}
}

func TestCompare_ReportsMismatches(t *testing.T) {
	want := 0.6
	f := &Fixture{ExpectedResults: []FixtureExpectedResult{
		{RoundID: "r1", Action: "increase", Difficulty: &want},
		{RoundID: "r2", Action: "maintain"},
	}}
	results := []Result{
		{RoundID: "r1", Decision: state.Decision{Action: state.ActionIncrease}, Difficulty: 0.7},
	}
	msgs := f.Compare(results)
	if len(msgs) != 2 {
		t.Fatalf("expected count and difficulty mismatches, got %v", msgs)
	}
}

// #endregion fixture-tests
