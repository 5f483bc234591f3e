package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/config"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/replay"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

func TestOpenCheckpoints_Backends(t *testing.T) {
	dir := t.TempDir()
	cases := []config.CheckpointConfig{
		{Backend: "memory"},
		{Backend: "file", Dir: filepath.Join(dir, "ckpt")},
		{Backend: "sqlite", Path: filepath.Join(dir, "ckpt.db")},
	}
	ctx := context.Background()
	for _, cc := range cases {
		t.Run(cc.Backend, func(t *testing.T) {
			var cl closers
			defer cl.Close()
			open, err := openCheckpoints(ctx, cc, &cl)
			if err != nil {
				t.Fatalf("openCheckpoints: %v", err)
			}
			err = checkpoint.With(ctx, open, func(s checkpoint.Store) error {
				return s.Write(ctx, "h", []byte("payload"))
			})
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			var got []byte
			err = checkpoint.With(ctx, open, func(s checkpoint.Store) (err error) {
				got, err = s.Read(ctx, "h")
				return err
			})
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != "payload" {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestOpenCheckpoints_UnknownBackend(t *testing.T) {
	var cl closers
	if _, err := openCheckpoints(context.Background(), config.CheckpointConfig{Backend: "tape"}, &cl); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildSinks_Provenance(t *testing.T) {
	var cl closers
	defer cl.Close()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	sinks, err := buildSinks(context.Background(), config.TelemetryConfig{Log: true, SQLitePath: path}, zap.NewNop(), &cl)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("expected zap and provenance sinks, got %d", len(sinks))
	}
	ev := telemetry.NewEvent(telemetry.EventSessionInitialized, "s1", "rule_based", map[string]any{"difficulty": 0.5})
	for _, s := range sinks {
		if err := s.Emit(context.Background(), ev); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	p, ok := sinks[1].(*telemetry.ProvenanceSink)
	if !ok {
		t.Fatalf("expected *telemetry.ProvenanceSink, got %T", sinks[1])
	}
	events, err := p.Query(context.Background(), "s1", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one stored event, got %d (%v)", len(events), err)
	}
}

func TestNewEngine_UsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Safety.DifficultyMax = 0.8
	cfg.Policies = map[string]map[string]any{"rule_based": {"increase_step": 0.05}}
	eng, err := newEngine(cfg, zap.NewNop(), checkpoint.NewMemStore().Opener(), telemetry.Nop{})
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if eng.Bounds().DifficultyMax != 0.8 {
		t.Fatalf("bounds not applied: %+v", eng.Bounds())
	}
	ctx := context.Background()
	if err := eng.InitializeSession(ctx, "s", "rule_based", nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	d, err := eng.ComputeAdaptation("s", state.StateVector{Performance: map[string]float64{"accuracy": 0.95}})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !near(d.DifficultyChange, 0.05) {
		t.Fatalf("expected configured step 0.05, got %v", d.DifficultyChange)
	}
}

func TestAggregate(t *testing.T) {
	results := []replay.SimResult{
		{Policy: "rule_based", MeanAccuracy: 0.6, FlowRate: 0.5, FinalSkill: 0.4,
			Results: []replay.Result{{Difficulty: 0.4}, {Difficulty: 0.5, Decision: state.Decision{SafetyModified: true}}}},
		{Policy: "rule_based", MeanAccuracy: 0.8, FlowRate: 0.3, FinalSkill: 0.6,
			Results: []replay.Result{{Difficulty: 0.6}, {Difficulty: 0.7}}},
	}
	row := aggregate("rb", results)
	if row.Policy != "rule_based" || row.Patients != 2 || row.Rounds != 2 || row.SafetyModified != 1 {
		t.Fatalf("unexpected row %+v", row)
	}
	if !near(row.MeanAccuracy, 0.7) || !near(row.FlowRate, 0.4) || !near(row.FinalDifficulty, 0.6) || !near(row.FinalSkill, 0.5) {
		t.Fatalf("unexpected averages %+v", row)
	}
	if (aggregate("x", nil) != simRow{Policy: "x"}) {
		t.Fatal("empty batch should only carry the name")
	}
}

func TestSimulateCommand_JSON(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"simulate", "--policy", "rule_based, fuzzy", "--patients", "2", "--rounds", "10", "--json", "--log-level", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	var rows []simRow
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("decode output: %v\n%s", err, buf.String())
	}
	if len(rows) != 2 || rows[0].Policy != "rule_based" || rows[1].Policy != "fuzzy_logic" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	for _, r := range rows {
		if r.Patients != 2 || r.Rounds != 10 {
			t.Fatalf("unexpected batch shape %+v", r)
		}
	}
}

func TestSplitList(t *testing.T) {
	if got := strings.Join(splitList(" a, ,b "), "|"); got != "a|b" {
		t.Fatalf("got %q", got)
	}
	if got := splitList(""); len(got) != 1 || got[0] != "rule_based" {
		t.Fatalf("empty list should fall back to rule_based, got %v", got)
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
