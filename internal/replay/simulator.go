package replay

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region patient
// Flow band used to score simulated sessions.
const (
	FlowMin = 0.5
	FlowMax = 0.7
)

// Patient is a synthetic patient. Expected accuracy is 0.65 when difficulty
// equals Skill and drops as difficulty rises above it. Rounds played inside
// the flow band raise Skill by Gain.
type Patient struct {
	Skill float64
	Gain  float64
	Noise float64 // standard deviation of per-round accuracy noise
	rng   *rand.Rand
}

// NewPatient returns a seeded patient.
func NewPatient(skill, gain, noise float64, seed uint64) *Patient {
	return &Patient{
		Skill: skill,
		Gain:  gain,
		Noise: noise,
		rng:   rand.New(rand.NewPCG(seed, seed+1)),
	}
}

// Perform plays one round at difficulty and returns the observed accuracy.
func (p *Patient) Perform(difficulty float64) float64 {
	acc := 0.65 + 1.2*(p.Skill-difficulty) + p.rng.NormFloat64()*p.Noise
	acc = state.Clamp(acc, 0, 1)
	if acc >= FlowMin && acc <= FlowMax {
		p.Skill = min(1, p.Skill+p.Gain)
	}
	return acc
}

// #endregion patient

// #region simulate
// SimConfig describes a batch of simulated sessions.
type SimConfig struct {
	Policy      string
	Config      policy.Config
	Patients    int
	Rounds      int
	Seed        uint64
	Skill       float64
	Gain        float64
	Noise       float64
	Parallelism int // 0 means one goroutine per patient
}

// DefaultSimConfig returns a small batch of moderately skilled patients.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Policy:   policy.NameRuleBased,
		Patients: 4,
		Rounds:   50,
		Seed:     1,
		Skill:    0.4,
		Gain:     0.005,
		Noise:    0.05,
	}
}

// SimResult summarizes one simulated patient.
type SimResult struct {
	SessionID    string
	Policy       string
	Results      []Result
	MeanAccuracy float64
	FlowRate     float64 // fraction of rounds with accuracy in the flow band
	FinalSkill   float64
}

// Simulate runs cfg.Patients sessions concurrently on eng. Each patient's
// noise and, unless cfg.Config sets one, the policy seed derive from cfg.Seed.
func Simulate(ctx context.Context, eng *engine.Engine, cfg SimConfig) ([]SimResult, error) {
	if cfg.Patients <= 0 || cfg.Rounds <= 0 {
		return nil, fmt.Errorf("simulate: patients and rounds must be positive (got %d, %d)", cfg.Patients, cfg.Rounds)
	}
	out := make([]SimResult, cfg.Patients)
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i := range cfg.Patients {
		g.Go(func() error {
			seed := cfg.Seed + uint64(i)
			pcfg := cfg.Config
			if !pcfg.Has("seed") {
				pcfg = policy.Merge(pcfg, policy.Config{"seed": int(seed)})
			}
			res, err := simulateOne(ctx, eng, cfg, pcfg, NewPatient(cfg.Skill, cfg.Gain, cfg.Noise, seed))
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func simulateOne(ctx context.Context, eng *engine.Engine, cfg SimConfig, pcfg policy.Config, p *Patient) (_ SimResult, err error) {
	id := "sim-" + uuid.NewString()
	if err := eng.InitializeSession(ctx, id, cfg.Policy, pcfg, policy.Profile{}); err != nil {
		return SimResult{}, fmt.Errorf("simulate init: %w", err)
	}
	defer func() {
		if endErr := eng.EndSession(ctx, id); err == nil {
			err = endErr
		}
	}()
	md, err := eng.Metadata(id)
	if err != nil {
		return SimResult{}, err
	}
	difficulty, err := eng.Difficulty(id)
	if err != nil {
		return SimResult{}, err
	}

	res := SimResult{SessionID: id, Policy: md.Name, Results: make([]Result, 0, cfg.Rounds)}
	var total float64
	var inFlow int
	for r := range cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return SimResult{}, err
		}
		acc := p.Perform(difficulty)
		total += acc
		if acc >= FlowMin && acc <= FlowMax {
			inFlow++
		}
		d, err := eng.ComputeAdaptation(id, state.StateVector{
			Performance: map[string]float64{state.KeyAccuracy: acc},
		})
		if err != nil {
			return SimResult{}, fmt.Errorf("simulate round %d: %w", r+1, err)
		}
		if difficulty, err = eng.Difficulty(id); err != nil {
			return SimResult{}, err
		}
		res.Results = append(res.Results, Result{
			RoundID:    fmt.Sprintf("round-%d", r+1),
			Decision:   d,
			Difficulty: difficulty,
		})
	}
	res.MeanAccuracy = total / float64(cfg.Rounds)
	res.FlowRate = float64(inFlow) / float64(cfg.Rounds)
	res.FinalSkill = p.Skill
	return res, nil
}

// #endregion simulate
