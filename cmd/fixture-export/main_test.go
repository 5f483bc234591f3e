package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/replay"
)

func TestExport_WritesLoadableFixture(t *testing.T) {
	out := filepath.Join(t.TempDir(), "fixture.json")
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--policy", "fuzzy", "--rounds", "12", "--out", out})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetErr(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := replay.LoadFixture(out)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if f.Policy != "fuzzy" || len(f.Rounds) != 12 || f.Description == "" {
		t.Fatalf("unexpected fixture %+v", f)
	}
	if s := replay.Summarize(toResults(f)); s.TotalRounds != 12 || s.Increases+s.Decreases+s.Maintains != 12 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("wrote 12 rounds")) {
		t.Fatalf("missing summary line: %q", stderr.String())
	}
}
