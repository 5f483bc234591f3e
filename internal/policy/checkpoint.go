package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region record
// CheckpointFormatVersion is the current checkpoint record layout.
const CheckpointFormatVersion = 1

// Record is the serialized learner state.
type Record struct {
	FormatVersion int       `json:"format_version"`
	PolicyKind    string    `json:"policy_kind"`
	Epsilon       float64   `json:"epsilon"`
	SavedAt       time.Time `json:"saved_at"`
	Entries       []Entry   `json:"entries"`
}

// Entry is one visited state and its per-action values.
type Entry struct {
	State  [3]int             `json:"state"`
	Values map[string]float64 `json:"values"`
}

// DecodeRecord parses and validates a checkpoint payload.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if rec.FormatVersion != CheckpointFormatVersion {
		return Record{}, fmt.Errorf("unsupported checkpoint format %d", rec.FormatVersion)
	}
	if rec.PolicyKind != NameQLearning {
		return Record{}, fmt.Errorf("checkpoint is for policy %q", rec.PolicyKind)
	}
	if math.IsNaN(rec.Epsilon) || rec.Epsilon < 0 || rec.Epsilon > 1 {
		return Record{}, fmt.Errorf("checkpoint epsilon %v out of range", rec.Epsilon)
	}
	for i, e := range rec.Entries {
		k := StateKey{Perf: e.State[0], Diff: e.State[1], Trend: e.State[2]}
		if !k.Valid() {
			return Record{}, fmt.Errorf("entry %d: state %v outside state space", i, e.State)
		}
		for name, v := range e.Values {
			if _, ok := state.ParseAction(name); !ok {
				return Record{}, fmt.Errorf("entry %d: unknown action %q", i, name)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Record{}, fmt.Errorf("entry %d: non-finite value for %s", i, name)
			}
		}
	}
	return rec, nil
}

// #endregion record

// #region snapshot-restore
// Snapshot serializes the Q-table and epsilon.
func (q *QLearning) Snapshot() ([]byte, error) {
	rec := Record{
		FormatVersion: CheckpointFormatVersion,
		PolicyKind:    NameQLearning,
		Epsilon:       q.epsilon,
		SavedAt:       time.Now().UTC(),
		Entries:       make([]Entry, 0, q.table.Len()),
	}
	for _, k := range q.table.Keys() {
		rec.Entries = append(rec.Entries, Entry{
			State:  [3]int{k.Perf, k.Diff, k.Trend},
			Values: actionValues(q.table.Row(k)),
		})
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Restore replaces the table and epsilon from a checkpoint. A stored epsilon
// below this instance's epsilon_min is raised to it. On any decode
// error the learner is reset to a fresh table and the error is returned.
func (q *QLearning) Restore(data []byte) error {
	rec, err := DecodeRecord(data)
	if err != nil {
		q.Reset()
		return errors.Join(errRestore, err)
	}
	table := NewQTable()
	for _, e := range rec.Entries {
		k := StateKey{Perf: e.State[0], Diff: e.State[1], Trend: e.State[2]}
		for name, v := range e.Values {
			table.Set(k, state.Action(name), v)
		}
	}
	q.table = table
	q.epsilon = max(q.cfg.EpsilonMin, rec.Epsilon)
	q.pending = nil
	return nil
}

var errRestore = errors.New("restore failed, learner reset")

func actionValues(row [3]float64) map[string]float64 {
	out := make(map[string]float64, len(row))
	for _, a := range state.Actions {
		out[string(a)] = row[a.Index()]
	}
	return out
}

// #endregion snapshot-restore
