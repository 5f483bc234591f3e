package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/replay"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "fixture-export",
	Short: "Record a simulated session as a replay fixture",
	Long: `fixture-export plays one synthetic patient through a fresh engine and
writes the observed rounds, plus the decisions the policy made, as a fixture
that the replay tool and the replay package tests can check against.`,
	Example: `  fixture-export --policy fuzzy --rounds 30 --out internal/replay/testdata/fuzzy_session.json`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runExport,
}

type exportOptions struct {
	policy      string
	sessionID   string
	description string
	rounds      int
	seed        uint64
	skill       float64
	gain        float64
	noise       float64
	out         string
}

var exportFlags exportOptions

func init() {
	d := replay.DefaultSimConfig()
	f := rootCmd.Flags()
	f.StringVar(&exportFlags.policy, "policy", policy.NameRuleBased, "Policy to record")
	f.StringVar(&exportFlags.sessionID, "session", "recorded", "Session id stored in the fixture")
	f.StringVar(&exportFlags.description, "description", "", "Fixture description")
	f.IntVar(&exportFlags.rounds, "rounds", 20, "Rounds to record")
	f.Uint64Var(&exportFlags.seed, "seed", d.Seed, "Seed for the patient and the policy")
	f.Float64Var(&exportFlags.skill, "skill", d.Skill, "Initial patient skill in [0,1]")
	f.Float64Var(&exportFlags.gain, "gain", d.Gain, "Skill gained per round played in flow")
	f.Float64Var(&exportFlags.noise, "noise", d.Noise, "Standard deviation of accuracy noise")
	f.StringVar(&exportFlags.out, "out", "", "Output path (stdout when empty)")
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

// #region export
func runExport(cmd *cobra.Command, _ []string) error {
	log, err := logging.New("development", "warn")
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

	setup := replay.Setup{
		SessionID: exportFlags.sessionID,
		Policy:    exportFlags.policy,
		Config:    policy.Config{"seed": int(exportFlags.seed)},
	}
	patient := replay.NewPatient(exportFlags.skill, exportFlags.gain, exportFlags.noise, exportFlags.seed)
	f, err := replay.Record(cmd.Context(), eng, setup, patient, exportFlags.rounds)
	if err != nil {
		return err
	}
	f.Description = exportFlags.description
	if f.Description == "" {
		f.Description = fmt.Sprintf("%s against a simulated patient (skill %.2f, noise %.2f, seed %d)",
			f.Policy, exportFlags.skill, exportFlags.noise, exportFlags.seed)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportFlags.out != "" {
		file, err := os.Create(exportFlags.out)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportFlags.out, err)
		}
		defer file.Close()
		w = file
	}
	if err := replay.WriteFixture(w, f); err != nil {
		return err
	}
	if exportFlags.out != "" {
		s := replay.Summarize(toResults(f))
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rounds to %s (%d increase, %d decrease, %d maintain)\n",
			s.TotalRounds, exportFlags.out, s.Increases, s.Decreases, s.Maintains)
	}
	return nil
}

// toResults rebuilds replay results from the fixture's expectations.
func toResults(f *replay.Fixture) []replay.Result {
	out := make([]replay.Result, len(f.ExpectedResults))
	for i, e := range f.ExpectedResults {
		out[i].RoundID = e.RoundID
		if a, ok := state.ParseAction(e.Action); ok {
			out[i].Decision.Action = a
		}
		if e.Difficulty != nil {
			out[i].Difficulty = *e.Difficulty
		}
	}
	return out
}

// #endregion export
