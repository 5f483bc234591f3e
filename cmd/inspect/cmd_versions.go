package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
)

// #region versions
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List stored checkpoint versions",
	Args:  cobra.NoArgs,
	RunE:  runVersions,
}

var showCmd = &cobra.Command{
	Use:   "show VERSION_ID",
	Short: "Decode one checkpoint version",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback HANDLE VERSION_ID",
	Short: "Make an earlier version the active checkpoint of a handle",
	Args:  cobra.ExactArgs(2),
	RunE:  runRollback,
}

type storeOptions struct {
	db      string
	handle  string
	last    int
	jsonOut bool
}

var storeFlags storeOptions

func init() {
	for _, c := range []*cobra.Command{versionsCmd, showCmd, rollbackCmd} {
		c.Flags().StringVar(&storeFlags.db, "db", "adaptrehab.db", "Path to the checkpoint database")
	}
	versionsCmd.Flags().StringVar(&storeFlags.handle, "handle", "", "Only list versions of this handle")
	versionsCmd.Flags().IntVar(&storeFlags.last, "last", 20, "Show the N most recent versions")
	versionsCmd.Flags().BoolVar(&storeFlags.jsonOut, "json", false, "Output as JSON instead of a table")
	showCmd.Flags().BoolVar(&storeFlags.jsonOut, "json", false, "Output as JSON instead of a table")
}

type versionRow struct {
	VersionID string   `json:"version_id"`
	Handle    string   `json:"handle"`
	ParentID  string   `json:"parent_id,omitempty"`
	Active    bool     `json:"active"`
	Bytes     int      `json:"bytes"`
	Policy    string   `json:"policy_kind,omitempty"`
	Epsilon   *float64 `json:"epsilon,omitempty"`
	States    int      `json:"states"`
	CreatedAt string   `json:"created_at"`
}

func toRow(v checkpoint.Version) versionRow {
	row := versionRow{
		VersionID: v.VersionID,
		Handle:    v.Handle,
		ParentID:  v.ParentID,
		Active:    v.Active,
		Bytes:     len(v.Payload),
		CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if rec, err := policy.DecodeRecord(v.Payload); err == nil {
		row.Policy = rec.PolicyKind
		row.Epsilon = &rec.Epsilon
		row.States = len(rec.Entries)
	}
	return row
}

func runVersions(cmd *cobra.Command, _ []string) error {
	store, err := checkpoint.NewSQLiteStore(storeFlags.db)
	if err != nil {
		return err
	}
	defer store.Close()

	versions, err := store.ListVersions(cmd.Context(), storeFlags.handle, storeFlags.last)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no versions found")
		return nil
	}
	// store returns newest first; print chronologically
	rows := make([]versionRow, len(versions))
	for i, v := range versions {
		rows[len(versions)-1-i] = toRow(v)
	}
	if storeFlags.jsonOut {
		return printJSON(out, rows)
	}
	printVersionTable(out, rows)
	return nil
}

func printVersionTable(w io.Writer, rows []versionRow) {
	fmt.Fprintf(w, "%-8s  %-20s  %-8s  %-6s  %6s  %-24s  %7s  %6s  %s\n",
		"Version", "Handle", "Parent", "Active", "Bytes", "Policy", "Epsilon", "States", "Time")
	fmt.Fprintf(w, "%-8s+-%-20s+-%-8s+-%-6s+-%6s+-%-24s+-%7s+-%6s+-%s\n",
		"--------", "--------------------", "--------", "------", "------", "------------------------", "-------", "------", "--------------------")
	for _, r := range rows {
		active, eps, pol := "", "-", r.Policy
		if r.Active {
			active = "*"
		}
		if r.Epsilon != nil {
			eps = strconv.FormatFloat(*r.Epsilon, 'f', 4, 64)
		}
		if pol == "" {
			pol = "(undecodable)"
		}
		fmt.Fprintf(w, "%-8s  %-20s  %-8s  %-6s  %6d  %-24s  %7s  %6d  %s\n",
			shortID(r.VersionID), r.Handle, shortID(r.ParentID), active, r.Bytes, pol, eps, r.States, r.CreatedAt)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := checkpoint.NewSQLiteStore(storeFlags.db)
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := store.GetVersion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	rec, err := policy.DecodeRecord(v.Payload)
	if err != nil {
		return fmt.Errorf("version %s: %w", shortID(v.VersionID), err)
	}
	out := cmd.OutOrStdout()
	if storeFlags.jsonOut {
		return printJSON(out, struct {
			versionRow
			Record policy.Record `json:"record"`
		}{toRow(v), rec})
	}

	fmt.Fprintf(out, "Version:  %s\n", v.VersionID)
	fmt.Fprintf(out, "Handle:   %s (active: %v)\n", v.Handle, v.Active)
	fmt.Fprintf(out, "Policy:   %s, format %d, epsilon %.4f\n", rec.PolicyKind, rec.FormatVersion, rec.Epsilon)
	fmt.Fprintf(out, "Saved:    %s\n\n", rec.SavedAt.Format("2006-01-02T15:04:05Z"))

	entries := slices.Clone(rec.Entries)
	slices.SortFunc(entries, func(a, b policy.Entry) int {
		for i := range a.State {
			if a.State[i] != b.State[i] {
				return a.State[i] - b.State[i]
			}
		}
		return 0
	})
	fmt.Fprintf(out, "%-10s  %9s  %9s  %9s\n", "State", "decrease", "maintain", "increase")
	for _, e := range entries {
		fmt.Fprintf(out, "%-10s  %9.4f  %9.4f  %9.4f\n",
			fmt.Sprintf("%d,%d,%d", e.State[0], e.State[1], e.State[2]),
			e.Values["decrease"], e.Values["maintain"], e.Values["increase"])
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	store, err := checkpoint.NewSQLiteStore(storeFlags.db)
	if err != nil {
		return err
	}
	defer store.Close()

	handle, target := args[0], args[1]
	if handle == "" || target == "" {
		return errors.New("handle and version id are required")
	}
	if err := store.Rollback(cmd.Context(), handle, target); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now at %s\n", handle, shortID(target))
	return nil
}

// #endregion versions
