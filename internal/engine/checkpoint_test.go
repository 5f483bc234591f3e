package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region helpers
func withMemStore(store *checkpoint.MemStore) func(*Options) {
	return func(o *Options) { o.Checkpoints = store.Opener() }
}

func trainRL(t *testing.T, e *Engine, id string, rounds int) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		acc := 0.3 + 0.6*float64(i%5)/4
		mustCompute(t, e, id, round(acc))
	}
}

func decode(t *testing.T, store *checkpoint.MemStore, handle string) policy.Record {
	t.Helper()
	raw, err := store.Read(context.Background(), handle)
	if err != nil {
		t.Fatalf("read %s: %v", handle, err)
	}
	rec, err := policy.DecodeRecord(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", handle, err)
	}
	return rec
}

// #endregion helpers

// #region save-load-tests
func TestSaveAndLoadCheckpointRoundTrip(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, rec := newEngine(t, withMemStore(store))
	ctx := context.Background()

	initSession(t, e, "a", "rl", policy.Config{"seed": 42})
	trainRL(t, e, "a", 40)
	if err := e.SaveCheckpoint(ctx, "a", "patient-7"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	initSession(t, e, "b", "rl", policy.Config{"seed": 99})
	if err := e.LoadCheckpoint(ctx, "b", "patient-7"); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if err := e.SaveCheckpoint(ctx, "b", "copy"); err != nil {
		t.Fatalf("SaveCheckpoint copy: %v", err)
	}

	orig, copied := decode(t, store, "patient-7"), decode(t, store, "copy")
	if len(orig.Entries) == 0 {
		t.Fatal("expected a non-empty table after training")
	}
	if diff := cmp.Diff(orig.Entries, copied.Entries); diff != "" {
		t.Fatalf("entries (-saved +reloaded):\n%s", diff)
	}
	if orig.Epsilon != copied.Epsilon {
		t.Fatalf("epsilon changed across round trip: %v vs %v", orig.Epsilon, copied.Epsilon)
	}
	if len(rec.OfType(telemetry.EventCheckpointSaved)) != 2 || len(rec.OfType(telemetry.EventCheckpointLoaded)) != 1 {
		t.Fatalf("unexpected checkpoint events: %+v", rec.Events())
	}
}

func TestSaveCheckpointErrors(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, _ := newEngine(t, withMemStore(store))
	ctx := context.Background()
	initSession(t, e, "rules", "rule_based", nil)
	initSession(t, e, "rl", "rl", policy.Config{"seed": 1})

	if err := e.SaveCheckpoint(ctx, "rules", "h"); !errors.Is(err, state.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for rule_based, got %v", err)
	}
	if err := e.LoadCheckpoint(ctx, "rules", "h"); !errors.Is(err, state.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported on load for rule_based, got %v", err)
	}
	var ve *state.ValidationError
	if err := e.SaveCheckpoint(ctx, "rl", ""); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError without handle or save_path, got %v", err)
	}
	var nf *state.SessionNotFoundError
	if err := e.SaveCheckpoint(ctx, "ghost", "h"); !errors.As(err, &nf) {
		t.Fatalf("expected SessionNotFoundError, got %v", err)
	}
}

func TestSaveWithoutStoreIsPersistenceError(t *testing.T) {
	e, rec := newEngine(t, nil)
	initSession(t, e, "rl", "rl", policy.Config{"seed": 1})
	err := e.SaveCheckpoint(context.Background(), "rl", "h")
	var pe *state.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "save" {
		t.Fatalf("expected save PersistenceError, got %v", err)
	}
	if len(rec.OfType(telemetry.EventCheckpointFailed)) != 1 {
		t.Fatal("expected checkpoint.failed event")
	}
	if _, err := e.ComputeAdaptation("rl", round(0.5)); err != nil {
		t.Fatalf("session must keep serving after a failed save: %v", err)
	}
}

func TestLoadMissingHandleKeepsState(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, _ := newEngine(t, withMemStore(store))
	ctx := context.Background()
	initSession(t, e, "rl", "rl", policy.Config{"seed": 5})
	trainRL(t, e, "rl", 20)
	e.SaveCheckpoint(ctx, "rl", "before")

	err := e.LoadCheckpoint(ctx, "rl", "missing")
	var pe *state.PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected PersistenceError wrapping ErrNotFound, got %v", err)
	}
	e.SaveCheckpoint(ctx, "rl", "after")
	if diff := cmp.Diff(decode(t, store, "before").Entries, decode(t, store, "after").Entries); diff != "" {
		t.Fatalf("failed load changed the table (-before +after):\n%s", diff)
	}
}

func TestLoadCorruptPayloadResets(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, _ := newEngine(t, withMemStore(store))
	ctx := context.Background()
	initSession(t, e, "rl", "rl", policy.Config{"seed": 5})
	trainRL(t, e, "rl", 20)
	store.Write(ctx, "junk", []byte(`{"format_version": 9}`))

	var pe *state.PersistenceError
	if err := e.LoadCheckpoint(ctx, "rl", "junk"); !errors.As(err, &pe) || pe.Op != "load" {
		t.Fatalf("expected load PersistenceError, got %v", err)
	}
	if err := e.SaveCheckpoint(ctx, "rl", "fresh"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if n := len(decode(t, store, "fresh").Entries); n != 0 {
		t.Fatalf("expected a fresh table after a corrupt load, got %d entries", n)
	}
}

// #endregion save-load-tests

// #region save-path-tests
func TestSavePathWrittenOnEndAndLoadedOnInit(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, rec := newEngine(t, withMemStore(store))
	ctx := context.Background()
	cfg := policy.Config{"seed": 8, "save_path": "patients/p1"}

	initSession(t, e, "s1", "rl", cfg)
	if n := len(rec.OfType(telemetry.EventCheckpointFailed)); n != 0 {
		t.Fatalf("missing checkpoint on first run should not be a failure, got %d", n)
	}
	trainRL(t, e, "s1", 25)
	if err := e.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if diff := cmp.Diff([]string{"patients/p1"}, store.Handles()); diff != "" {
		t.Fatalf("handles (-want +got):\n%s", diff)
	}
	saved := decode(t, store, "patients/p1")

	initSession(t, e, "s2", "rl", cfg)
	if len(rec.OfType(telemetry.EventCheckpointLoaded)) != 1 {
		t.Fatal("expected the save_path checkpoint to be loaded on init")
	}
	if err := e.SaveCheckpoint(ctx, "s2", ""); err != nil {
		t.Fatalf("SaveCheckpoint to save_path: %v", err)
	}
	if diff := cmp.Diff(saved.Entries, decode(t, store, "patients/p1").Entries); diff != "" {
		t.Fatalf("auto-loaded table differs (-saved +loaded):\n%s", diff)
	}
}

func TestSwapWritesFinalCheckpointOfOldPolicy(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, _ := newEngine(t, withMemStore(store))
	initSession(t, e, "s1", "rl", policy.Config{"seed": 2, "save_path": "p2"})
	trainRL(t, e, "s1", 10)

	if err := e.SwapModule(context.Background(), "s1", "rule_based", policy.Config{}); err != nil {
		t.Fatalf("SwapModule: %v", err)
	}
	if len(decode(t, store, "p2").Entries) == 0 {
		t.Fatal("expected the learner's table written before the swap")
	}
	info, _ := e.Info("s1")
	if info.SavePath != "" || info.Policy != policy.NameRuleBased {
		t.Fatalf("unexpected session after swap %+v", info)
	}
}

func TestSwapSameSavePathCarriesOutgoingState(t *testing.T) {
	store := checkpoint.NewMemStore()
	e, rec := newEngine(t, withMemStore(store))
	ctx := context.Background()
	initSession(t, e, "s1", "rl", policy.Config{"seed": 2, "save_path": "shared"})
	trainRL(t, e, "s1", 2)
	if err := e.SaveCheckpoint(ctx, "s1", ""); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	stale := len(decode(t, store, "shared").Entries)
	trainRL(t, e, "s1", 30)

	if err := e.SwapModule(ctx, "s1", "rl", nil); err != nil {
		t.Fatalf("SwapModule: %v", err)
	}
	final := len(decode(t, store, "shared").Entries)
	if final <= stale {
		t.Fatalf("expected the final checkpoint to hold more states than the stale one (%d <= %d)", final, stale)
	}
	md, err := e.Metadata("s1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if got := md.Details["states_visited"]; got != final {
		t.Fatalf("new learner should start from the outgoing table (%d states), got %v", final, got)
	}
	if len(rec.OfType(telemetry.EventCheckpointLoaded)) != 1 {
		t.Fatal("expected one checkpoint.loaded event for the carried state")
	}
}

func TestCorruptSavePathStartsFresh(t *testing.T) {
	store := checkpoint.NewMemStore()
	store.Write(context.Background(), "bad", []byte("not json"))
	e, rec := newEngine(t, withMemStore(store))

	initSession(t, e, "s1", "rl", policy.Config{"seed": 2, "save_path": "bad"})
	if len(rec.OfType(telemetry.EventCheckpointFailed)) != 1 {
		t.Fatal("expected a checkpoint.failed event for the corrupt payload")
	}
	if _, err := e.ComputeAdaptation("s1", round(0.5)); err != nil {
		t.Fatalf("session should serve after a failed auto-load: %v", err)
	}
}

// #endregion save-path-tests
