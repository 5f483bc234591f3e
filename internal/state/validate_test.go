package state

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateOK(t *testing.T) {
	sv := StateVector{
		Performance: map[string]float64{"accuracy": 0.7},
		Task:        map[string]float64{"difficulty": 0.5},
	}
	if err := Validate(sv, []string{"accuracy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMissingKeys(t *testing.T) {
	sv := StateVector{Performance: map[string]float64{"speed": 1}}

	err := Validate(sv, []string{"accuracy", "success_rate"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"accuracy", "success_rate"}, ve.Missing); diff != "" {
		t.Errorf("missing keys mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateNonFinite(t *testing.T) {
	sv := StateVector{
		Performance: map[string]float64{"accuracy": math.NaN()},
		Sensors:     map[string]float64{"grip": math.Inf(1)},
	}

	err := Validate(sv, []string{"accuracy"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"accuracy", "grip"}, ve.Invalid); diff != "" {
		t.Errorf("invalid keys mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateDifficultyOutOfRange(t *testing.T) {
	sv := StateVector{
		Performance: map[string]float64{"accuracy": 0.5},
		Task:        map[string]float64{"difficulty": 1.4},
	}
	if err := Validate(sv, []string{"accuracy"}); err == nil {
		t.Fatal("expected error for difficulty above 1")
	}
}

func TestWithDifficultyDoesNotMutate(t *testing.T) {
	task := map[string]float64{"difficulty": 0.2, "round": 3}
	sv := StateVector{Task: task}

	out := sv.WithDifficulty(0.8)

	if task["difficulty"] != 0.2 {
		t.Fatalf("original task map mutated: %v", task)
	}
	if out.Difficulty() != 0.8 {
		t.Fatalf("expected 0.8, got %f", out.Difficulty())
	}
	if out.Task["round"] != 3 {
		t.Fatal("expected other task keys to be preserved")
	}
}

func TestDecisionParamsCarriesChange(t *testing.T) {
	d := Decision{
		Action:           ActionDecrease,
		DifficultyChange: -0.15,
		Parameters:       map[string]any{"current_performance": 0.2},
	}
	p := d.Params()
	if p[KeyDifficultyChange] != -0.15 {
		t.Fatalf("expected difficulty_change -0.15, got %v", p[KeyDifficultyChange])
	}
	if _, ok := d.Parameters[KeyDifficultyChange]; ok {
		t.Fatal("Params must not write into Parameters")
	}
}

func TestActionIndexRoundTrip(t *testing.T) {
	for i, a := range Actions {
		if a.Index() != i {
			t.Errorf("%s: expected index %d, got %d", a, i, a.Index())
		}
		if got, ok := ParseAction(string(a)); !ok || got != a {
			t.Errorf("ParseAction(%q) = %v, %v", a, got, ok)
		}
	}
	if _, ok := ParseAction("jump"); ok {
		t.Error("expected unknown action to fail parsing")
	}
}

func TestErrorMessages(t *testing.T) {
	pe := &PersistenceError{Op: "load", Handle: "h1", Err: ErrNotFound}
	if !errors.Is(pe, ErrNotFound) {
		t.Fatal("PersistenceError should unwrap to cause")
	}
	up := &UnknownPolicyError{Name: "ppo", Known: []string{"rule_based"}}
	if up.Error() == "" {
		t.Fatal("expected message")
	}
}
