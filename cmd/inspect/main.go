package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// #region root
var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect checkpoint history and telemetry",
	Long: `inspect reads the controller's SQLite checkpoint store and telemetry log.
It lists and decodes stored learner checkpoints, moves a handle back to an
earlier version, queries recorded telemetry events, and tails live events
from the Redis telemetry channel.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionsCmd, showCmd, rollbackCmd, eventsCmd, watchCmd)
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

// #region helpers
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
