package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/replay"
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "replay --fixture path/to/fixture.json",
	Short: "Replay a recorded session fixture through the engine",
	Long: `replay runs every round of a fixture through a fresh in-process engine
and compares each decision against the fixture's expected results.

With --policy the rounds are replayed under a different policy instead;
expectations are skipped since they describe the recorded policy.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runReplay,
}

type replayOptions struct {
	fixture  string
	policy   string
	jsonOut  bool
	logLevel string
}

var replayFlags replayOptions

func init() {
	f := rootCmd.Flags()
	f.StringVar(&replayFlags.fixture, "fixture", "", "Path to fixture JSON (required)")
	f.StringVar(&replayFlags.policy, "policy", "", "Replay under this policy instead of the fixture's")
	f.BoolVar(&replayFlags.jsonOut, "json", false, "Output rounds as JSON instead of a table")
	f.StringVar(&replayFlags.logLevel, "log-level", "warn", "Engine log level")
}

// #endregion root

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region run
type roundRow struct {
	RoundID        string  `json:"round_id"`
	Action         string  `json:"action"`
	Change         float64 `json:"difficulty_change"`
	Difficulty     float64 `json:"difficulty"`
	Confidence     float64 `json:"confidence"`
	SafetyModified bool    `json:"safety_modified"`
}

type report struct {
	Description string         `json:"description,omitempty"`
	Policy      string         `json:"policy"`
	Rounds      []roundRow     `json:"rounds"`
	Summary     replay.Summary `json:"summary"`
	Mismatches  []string       `json:"mismatches,omitempty"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	if replayFlags.fixture == "" {
		return errors.New("--fixture is required")
	}
	f, err := replay.LoadFixture(replayFlags.fixture)
	if err != nil {
		return err
	}
	log, err := logging.New("development", replayFlags.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := engine.DefaultOptions()
	opts.Logger = log
	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	setup := f.ToSetup()
	compare := true
	if replayFlags.policy != "" && replayFlags.policy != setup.Policy {
		setup.Policy = replayFlags.policy
		setup.Config = nil
		compare = false
	}

	results, err := replay.Replay(cmd.Context(), eng, setup, f.ToRounds())
	rep := buildReport(f.Description, setup.Policy, results)
	if compare && err == nil {
		rep.Mismatches = f.Compare(results)
	}

	out := cmd.OutOrStdout()
	if replayFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(rep); jerr != nil {
			return jerr
		}
	} else {
		printReport(out, rep)
	}
	if err != nil {
		return fmt.Errorf("replay stopped after %d rounds: %w", len(results), err)
	}
	if len(rep.Mismatches) > 0 {
		return fmt.Errorf("%d mismatches against %s", len(rep.Mismatches), replayFlags.fixture)
	}
	return nil
}

func buildReport(desc, policyName string, results []replay.Result) report {
	rep := report{Description: desc, Policy: policyName, Summary: replay.Summarize(results)}
	for _, r := range results {
		rep.Rounds = append(rep.Rounds, roundRow{
			RoundID:        r.RoundID,
			Action:         string(r.Decision.Action),
			Change:         r.Decision.DifficultyChange,
			Difficulty:     r.Difficulty,
			Confidence:     r.Decision.Confidence,
			SafetyModified: r.Decision.SafetyModified,
		})
	}
	return rep
}

func printReport(w io.Writer, rep report) {
	if rep.Description != "" {
		fmt.Fprintf(w, "%s\n", rep.Description)
	}
	fmt.Fprintf(w, "Policy: %s\n\n", rep.Policy)
	fmt.Fprintf(w, "%-10s  %-9s  %8s  %10s  %10s  %s\n",
		"Round", "Action", "Change", "Difficulty", "Confidence", "Safety")
	fmt.Fprintf(w, "%-10s+-%-9s+-%8s+-%10s+-%10s+-%s\n",
		"----------", "---------", "--------", "----------", "----------", "------")
	for _, r := range rep.Rounds {
		safety := ""
		if r.SafetyModified {
			safety = "modified"
		}
		fmt.Fprintf(w, "%-10s  %-9s  %+8.3f  %10.3f  %10.3f  %s\n",
			r.RoundID, r.Action, r.Change, r.Difficulty, r.Confidence, safety)
	}
	s := rep.Summary
	fmt.Fprintf(w, "\n%d rounds: %d increase, %d decrease, %d maintain, %d safety-modified, final difficulty %.3f\n",
		s.TotalRounds, s.Increases, s.Decreases, s.Maintains, s.SafetyModified, s.FinalDifficulty)
	for _, m := range rep.Mismatches {
		fmt.Fprintf(w, "MISMATCH %s\n", m)
	}
	if len(rep.Mismatches) == 0 {
		fmt.Fprintln(w, "all expectations met")
	}
}

// #endregion run
