package policy

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/google/go-cmp/cmp"
)

func newQ(t *testing.T, cfg Config) *QLearning {
	t.Helper()
	q := NewQLearning()
	if err := q.Initialize(cfg, Profile{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return q
}

func TestDiscretize(t *testing.T) {
	for _, tc := range []struct {
		perf, diff float64
		want       StateKey
	}{
		{0, 0, StateKey{0, 0, TrendStable}},
		{0.65, 0.5, StateKey{6, 2, TrendStable}},
		{1, 1, StateKey{9, 4, TrendStable}},
		{1.4, -0.2, StateKey{9, 0, TrendStable}},
	} {
		if got := Discretize(tc.perf, tc.diff, TrendStable); got != tc.want {
			t.Errorf("Discretize(%v, %v) = %+v, want %+v", tc.perf, tc.diff, got, tc.want)
		}
	}
}

func TestTrendOf(t *testing.T) {
	for name, tc := range map[string]struct {
		hist []float64
		want int
	}{
		"empty":     {nil, TrendStable},
		"single":    {[]float64{0.5}, TrendStable},
		"two up":    {[]float64{0.5, 0.7}, TrendImproving},
		"two high":  {[]float64{0.7, 0.71}, TrendStable}, // first value is the baseline, not 0.5
		"improving": {[]float64{0.3, 0.3, 0.3, 0.6, 0.6, 0.6}, TrendImproving},
		"declining": {[]float64{0.6, 0.6, 0.6, 0.3, 0.3, 0.3}, TrendDeclining},
		"flat":      {[]float64{0.5, 0.52, 0.5, 0.51, 0.49}, TrendStable},
	} {
		if got := TrendOf(tc.hist); got != tc.want {
			t.Errorf("%s: TrendOf = %d, want %d", name, got, tc.want)
		}
	}
}

func TestQTableGetOrZeroAndTieBreak(t *testing.T) {
	q := NewQTable()
	s := StateKey{3, 2, 1}
	if q.Get(s, state.ActionIncrease) != 0 || q.Len() != 0 {
		t.Fatal("unseen state should read zero without growing the table")
	}
	if q.Best(s) != state.ActionMaintain {
		t.Fatalf("all-zero tie should prefer maintain, got %s", q.Best(s))
	}
	q.Set(s, state.ActionIncrease, 1)
	q.Set(s, state.ActionDecrease, 1)
	if q.Best(s) != state.ActionIncrease {
		t.Fatalf("increase should beat decrease on ties, got %s", q.Best(s))
	}
	q.Set(s, state.ActionMaintain, 1)
	if q.Best(s) != state.ActionMaintain {
		t.Fatalf("three-way tie should prefer maintain, got %s", q.Best(s))
	}
	if q.Max(s) != 1 || q.Len() != 1 {
		t.Fatalf("unexpected max %v / len %d", q.Max(s), q.Len())
	}
}

func TestRewardComponents(t *testing.T) {
	for name, tc := range map[string]struct {
		before, after float64
		action        state.Action
		want          float64
	}{
		"flow maintain":         {0.65, 0.65, state.ActionMaintain, 0.45},
		"low without decrease":  {0.2, 0.3, state.ActionIncrease, 0.05 - 0.1},
		"low with decrease":     {0.2, 0.3, state.ActionDecrease, 0.05 + 0.15},
		"high with increase":    {0.95, 0.9, state.ActionIncrease, -0.025 + 0.15},
		"high without increase": {0.95, 0.9, state.ActionMaintain, -0.025 - 0.1},
		"improvement into flow": {0.4, 0.6, state.ActionMaintain, 0.1 + 0.2 + 0.15},
	} {
		got := Reward(tc.before, tc.after, tc.action, DefaultRewardConfig())
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: Reward = %v, want %v", name, got, tc.want)
		}
	}
}

func TestQLearningFlowMaintainValueRises(t *testing.T) {
	q := newQ(t, Config{"exploration_rate": 0, "epsilon_min": 0, "seed": 1})
	key := Discretize(0.65, 0.5, TrendStable)

	var values []float64
	for round := 0; round < 10; round++ {
		d, err := q.Decide(sv(0.65, 0.5))
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if d.Action != state.ActionMaintain {
			t.Fatalf("round %d: expected maintain, got %s", round, d.Action)
		}
		values = append(values, q.Table().Get(key, state.ActionMaintain))
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			t.Fatalf("Q(maintain) not strictly increasing at round %d: %v", i, values)
		}
	}
	if math.Abs(values[1]-0.045) > 1e-12 {
		t.Fatalf("first update should be alpha*0.45 = 0.045, got %v", values[1])
	}
}

func TestQLearningResidualShrinks(t *testing.T) {
	q := newQ(t, Config{"seed": 3})
	s, next := StateKey{2, 1, 1}, StateKey{7, 3, 2}
	const r = 0.3
	residual := func() float64 {
		return math.Abs(r + q.cfg.DiscountFactor*q.table.Max(next) - q.table.Get(s, state.ActionIncrease))
	}
	before := residual()
	for i := 0; i < 25; i++ {
		q.update(s, state.ActionIncrease, r, next)
		after := residual()
		if after >= before {
			t.Fatalf("update %d: residual did not shrink (%v -> %v)", i, before, after)
		}
		before = after
	}
}

func TestQLearningEpsilonDecayFloor(t *testing.T) {
	q := newQ(t, Config{"exploration_rate": 0.5, "epsilon_decay": 0.9, "epsilon_min": 0.1, "seed": 7})
	rng := rand.New(rand.NewPCG(1, 2))
	prev := q.Epsilon()
	for i := 0; i < 100; i++ {
		d, err := q.Decide(sv(rng.Float64(), rng.Float64()))
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		eps := q.Epsilon()
		if eps > prev {
			t.Fatalf("epsilon increased at round %d: %v -> %v", i, prev, eps)
		}
		if eps < 0.1 {
			t.Fatalf("epsilon %v below floor", eps)
		}
		if math.Abs(d.Confidence-(1-eps)) > 1e-12 {
			t.Fatalf("confidence %v should be 1-epsilon %v", d.Confidence, 1-eps)
		}
		prev = eps
	}
	if q.Epsilon() != 0.1 {
		t.Fatalf("expected epsilon to reach the floor, got %v", q.Epsilon())
	}
}

func TestQLearningExternalFeedbackReplacesReward(t *testing.T) {
	q := newQ(t, Config{"exploration_rate": 0, "epsilon_min": 0, "seed": 1})
	key := Discretize(0.65, 0.5, TrendStable)

	q.Feedback(5) // nothing pending yet
	if q.Updates() != 0 {
		t.Fatal("feedback without a pending round should not update")
	}

	q.Decide(sv(0.65, 0.5))
	q.Feedback(-1)
	q.Decide(sv(0.65, 0.5))
	if got := q.Table().Get(key, state.ActionMaintain); math.Abs(got+0.1) > 1e-12 {
		t.Fatalf("expected Q = 0.1*(-1) = -0.1, got %v", got)
	}
}

func TestQLearningSeedDeterminism(t *testing.T) {
	run := func() []state.Action {
		q := newQ(t, Config{"exploration_rate": 0.6, "seed": 42})
		var out []state.Action
		for i := 0; i < 40; i++ {
			d, _ := q.Decide(sv(float64(i%10)/10, 0.5))
			out = append(out, d.Action)
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Fatalf("seeded learners diverged:\n%s", diff)
	}
}

func TestQLearningCheckpointRoundTrip(t *testing.T) {
	cfg := Config{"exploration_rate": 0.4, "epsilon_decay": 0.97, "seed": 11}
	q := newQ(t, cfg)
	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 60; i++ {
		q.Decide(sv(rng.Float64(), rng.Float64()))
		if i%3 == 0 {
			q.Feedback(rng.Float64() - 0.5)
		}
	}
	data, err := q.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fresh := newQ(t, cfg)
	if err := fresh.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fresh.Epsilon() != q.Epsilon() {
		t.Fatalf("epsilon %v != %v", fresh.Epsilon(), q.Epsilon())
	}
	if diff := cmp.Diff(q.Table().Keys(), fresh.Table().Keys()); diff != "" {
		t.Fatalf("visited states differ:\n%s", diff)
	}
	for _, k := range q.Table().Keys() {
		if q.Table().Row(k) != fresh.Table().Row(k) {
			t.Fatalf("state %+v: %v != %v", k, q.Table().Row(k), fresh.Table().Row(k))
		}
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if rec.FormatVersion != CheckpointFormatVersion || rec.PolicyKind != NameQLearning {
		t.Fatalf("unexpected header: %+v", rec)
	}
}

func TestQLearningRestoreFailureResets(t *testing.T) {
	for name, payload := range map[string]string{
		"garbage":     "{not json",
		"wrong kind":  `{"format_version":1,"policy_kind":"fuzzy_logic","epsilon":0.1,"entries":[]}`,
		"bad version": `{"format_version":9,"policy_kind":"reinforcement_learning","epsilon":0.1,"entries":[]}`,
		"bad state":   `{"format_version":1,"policy_kind":"reinforcement_learning","epsilon":0.1,"entries":[{"state":[12,0,0],"values":{"maintain":1}}]}`,
		"bad action":  `{"format_version":1,"policy_kind":"reinforcement_learning","epsilon":0.1,"entries":[{"state":[1,0,0],"values":{"jump":1}}]}`,
	} {
		q := newQ(t, Config{"seed": 2})
		q.Table().Set(StateKey{1, 1, 1}, state.ActionIncrease, 3)
		q.epsilon = 0.05

		err := q.Restore([]byte(payload))
		if !errors.Is(err, errRestore) {
			t.Fatalf("%s: expected restore error, got %v", name, err)
		}
		if q.Table().Len() != 0 || q.Epsilon() != q.Config().ExplorationRate {
			t.Fatalf("%s: expected fresh learner, got %d states eps %v", name, q.Table().Len(), q.Epsilon())
		}
	}
}

func TestQLearningResetRestoresInitialEpsilon(t *testing.T) {
	q := newQ(t, Config{"exploration_rate": 0.3, "epsilon_decay": 0.5, "seed": 4})
	for i := 0; i < 5; i++ {
		q.Decide(sv(0.5, 0.5))
	}
	if q.Epsilon() >= 0.3 {
		t.Fatalf("expected decay, got %v", q.Epsilon())
	}
	q.Reset()
	if q.Epsilon() != 0.3 || q.Table().Len() != 0 || q.Updates() != 0 {
		t.Fatalf("reset incomplete: eps %v states %d updates %d", q.Epsilon(), q.Table().Len(), q.Updates())
	}
}

func TestQLearningRejectsBadConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"floor above start": {"exploration_rate": 0.1, "epsilon_min": 0.2},
		"alpha range":       {"learning_rate": 1.5},
		"flow inverted":     {"flow_min": 0.8, "flow_max": 0.6},
		"fractional seed":   {"seed": 1.5},
	} {
		if err := NewQLearning().Initialize(cfg, Profile{}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestQLearningRestoreRaisesEpsilonToFloor(t *testing.T) {
	low := newQ(t, Config{"exploration_rate": 0.001, "epsilon_min": 0, "seed": 1})
	data, err := low.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	q := newQ(t, Config{"seed": 1})
	if err := q.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if q.Epsilon() != q.Config().EpsilonMin {
		t.Fatalf("expected epsilon raised to floor %v, got %v", q.Config().EpsilonMin, q.Epsilon())
	}
}

func TestQLearningCreditsAppliedAction(t *testing.T) {
	q := newQ(t, Config{"exploration_rate": 0.9, "epsilon_min": 0, "seed": 5})
	for i := 0; i < 20; i++ {
		if _, err := q.Decide(sv(0.65, 0.5)); err != nil {
			t.Fatalf("Decide: %v", err)
		}
		q.ObserveApplied(0) // every change overridden to maintain
	}
	if q.Updates() == 0 {
		t.Fatal("expected updates")
	}
	for _, k := range q.Table().Keys() {
		row := q.Table().Row(k)
		if row[state.ActionIncrease.Index()] != 0 || row[state.ActionDecrease.Index()] != 0 {
			t.Fatalf("state %+v: unapplied actions were credited: %v", k, row)
		}
	}

	q.ObserveApplied(-0.1)
	if q.pending.action != state.ActionDecrease {
		t.Fatalf("negative change should record decrease, got %s", q.pending.action)
	}
}
