package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/replay"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region simulate
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run policies against synthetic patients",
	Long: `Run a batch of simulated sessions per policy and report how often each
policy kept patients inside the 0.5-0.7 accuracy flow band.

Sessions run in-process on a fresh engine with in-memory checkpoints;
the safety bounds and policy defaults come from the loaded config.`,
	Example: `  controller simulate
  controller simulate --policy rl,fuzzy --patients 8 --rounds 200 --json`,
	RunE: runSimulate,
}

type simulateOptions struct {
	policies    string
	patients    int
	rounds      int
	seed        uint64
	skill       float64
	gain        float64
	noise       float64
	parallelism int
	jsonOut     bool
}

var simulateFlags simulateOptions

func init() {
	d := replay.DefaultSimConfig()
	f := simulateCmd.Flags()
	f.StringVar(&simulateFlags.policies, "policy", "rule_based,fuzzy_logic,reinforcement_learning", "Comma-separated policies to compare")
	f.IntVar(&simulateFlags.patients, "patients", d.Patients, "Patients per policy")
	f.IntVar(&simulateFlags.rounds, "rounds", d.Rounds, "Rounds per patient")
	f.Uint64Var(&simulateFlags.seed, "seed", d.Seed, "Base seed for patients and policies")
	f.Float64Var(&simulateFlags.skill, "skill", d.Skill, "Initial patient skill in [0,1]")
	f.Float64Var(&simulateFlags.gain, "gain", d.Gain, "Skill gained per round played in flow")
	f.Float64Var(&simulateFlags.noise, "noise", d.Noise, "Standard deviation of accuracy noise")
	f.IntVar(&simulateFlags.parallelism, "parallel", 0, "Concurrent sessions per policy (0 = all)")
	f.BoolVar(&simulateFlags.jsonOut, "json", false, "Output as JSON instead of a table")
}

// simRow aggregates one policy's batch.
type simRow struct {
	Policy          string  `json:"policy"`
	Patients        int     `json:"patients"`
	Rounds          int     `json:"rounds"`
	MeanAccuracy    float64 `json:"mean_accuracy"`
	FlowRate        float64 `json:"flow_rate"`
	FinalDifficulty float64 `json:"final_difficulty"`
	FinalSkill      float64 `json:"final_skill"`
	SafetyModified  int     `json:"safety_modified"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	eng, err := newEngine(cfg, log, checkpoint.NewMemStore().Opener(), telemetry.Nop{})
	if err != nil {
		return err
	}

	var rows []simRow
	for _, name := range splitList(simulateFlags.policies) {
		sc := replay.SimConfig{
			Policy:      name,
			Patients:    simulateFlags.patients,
			Rounds:      simulateFlags.rounds,
			Seed:        simulateFlags.seed,
			Skill:       simulateFlags.skill,
			Gain:        simulateFlags.gain,
			Noise:       simulateFlags.noise,
			Parallelism: simulateFlags.parallelism,
		}
		results, err := replay.Simulate(cmd.Context(), eng, sc)
		if err != nil {
			return fmt.Errorf("simulate %s: %w", name, err)
		}
		rows = append(rows, aggregate(name, results))
	}

	out := cmd.OutOrStdout()
	if simulateFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printSimTable(out, rows)
	return nil
}

func aggregate(name string, results []replay.SimResult) simRow {
	row := simRow{Policy: name, Patients: len(results)}
	if len(results) == 0 {
		return row
	}
	if md := results[0].Policy; md != "" {
		row.Policy = md
	}
	for _, r := range results {
		row.Rounds = len(r.Results)
		row.MeanAccuracy += r.MeanAccuracy
		row.FlowRate += r.FlowRate
		row.FinalSkill += r.FinalSkill
		if n := len(r.Results); n > 0 {
			row.FinalDifficulty += r.Results[n-1].Difficulty
		}
		row.SafetyModified += replay.Summarize(r.Results).SafetyModified
	}
	n := float64(len(results))
	row.MeanAccuracy /= n
	row.FlowRate /= n
	row.FinalSkill /= n
	row.FinalDifficulty /= n
	return row
}

func printSimTable(w io.Writer, rows []simRow) {
	fmt.Fprintf(w, "%-24s  %8s  %6s  %8s  %6s  %10s  %6s  %6s\n",
		"Policy", "Patients", "Rounds", "Accuracy", "Flow", "Difficulty", "Skill", "Safety")
	fmt.Fprintf(w, "%-24s+-%8s+-%6s+-%8s+-%6s+-%10s+-%6s+-%6s\n",
		"------------------------", "--------", "------", "--------", "------", "----------", "------", "------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-24s  %8d  %6d  %8.3f  %5.1f%%  %10.3f  %6.3f  %6d\n",
			r.Policy, r.Patients, r.Rounds, r.MeanAccuracy, r.FlowRate*100, r.FinalDifficulty, r.FinalSkill, r.SafetyModified)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, policy.NameRuleBased)
	}
	return out
}

// #endregion simulate
