package replay

import (
	"context"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
)

func TestPatient_PerformTracksSkill(t *testing.T) {
	p := NewPatient(0.5, 0, 0, 1)
	if got := p.Perform(0.5); got != 0.65 {
		t.Fatalf("expected 0.65 at matched difficulty, got %v", got)
	}
	if got := p.Perform(1); got >= 0.65 {
		t.Fatalf("harder rounds should lower accuracy, got %v", got)
	}
	if got := p.Perform(0); got != 1 {
		t.Fatalf("accuracy should clamp at 1, got %v", got)
	}
}

func TestPatient_FlowRaisesSkill(t *testing.T) {
	p := NewPatient(0.5, 0.01, 0, 1)
	p.Perform(0.5)
	if p.Skill != 0.51 {
		t.Fatalf("expected skill 0.51 after a flow round, got %v", p.Skill)
	}
	p.Perform(0)
	if p.Skill != 0.51 {
		t.Fatal("rounds outside the flow band should not change skill")
	}
}

func TestPatient_Deterministic(t *testing.T) {
	a, b := NewPatient(0.4, 0.01, 0.1, 7), NewPatient(0.4, 0.01, 0.1, 7)
	for i := 0; i < 20; i++ {
		if x, y := a.Perform(0.5), b.Perform(0.5); x != y {
			t.Fatalf("round %d: %v != %v", i, x, y)
		}
	}
}

func TestSimulate_AllPolicies(t *testing.T) {
	for _, name := range []string{policy.NameRuleBased, policy.NameFuzzy, policy.NameQLearning} {
		t.Run(name, func(t *testing.T) {
			eng := newEngine(t)
			cfg := DefaultSimConfig()
			cfg.Policy = name
			cfg.Rounds = 40
			cfg.Parallelism = 2

			results, err := Simulate(context.Background(), eng, cfg)
			if err != nil {
				t.Fatalf("Simulate: %v", err)
			}
			if len(results) != cfg.Patients {
				t.Fatalf("expected %d results, got %d", cfg.Patients, len(results))
			}
			for _, r := range results {
				if r.Policy != name || len(r.Results) != cfg.Rounds {
					t.Fatalf("unexpected result %s/%s with %d rounds", r.SessionID, r.Policy, len(r.Results))
				}
				if r.MeanAccuracy < 0 || r.MeanAccuracy > 1 || r.FlowRate < 0 || r.FlowRate > 1 {
					t.Fatalf("out of range stats %+v", r)
				}
				for _, round := range r.Results {
					if round.Difficulty < 0 || round.Difficulty > 1 {
						t.Fatalf("difficulty %v out of range", round.Difficulty)
					}
				}
			}
			if len(eng.Sessions()) != 0 {
				t.Fatal("simulated sessions should be ended")
			}
			if eng.Status().TotalAdaptations != uint64(cfg.Patients*cfg.Rounds) {
				t.Fatalf("unexpected adaptation count %d", eng.Status().TotalAdaptations)
			}
		})
	}
}

func TestSimulate_RuleBasedFindsFlow(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Patients = 1
	cfg.Rounds = 60
	cfg.Noise = 0
	cfg.Skill = 0.2
	results, err := Simulate(context.Background(), newEngine(t), cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	// Starting at 0.5 against skill 0.2 the patient struggles; the policy
	// should back difficulty off rather than leave it.
	if got := results[0].Results[len(results[0].Results)-1].Difficulty; got >= 0.5 {
		t.Fatalf("expected difficulty to fall below 0.5, got %v", got)
	}
}

func TestSimulate_RejectsEmptyBatch(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Patients = 0
	if _, err := Simulate(context.Background(), newEngine(t), cfg); err == nil {
		t.Fatal("expected error for zero patients")
	}
}
