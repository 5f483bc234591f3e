package rpc

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// Wire field names.
const (
	fieldSessionID   = "session_id"
	fieldPolicyName  = "policy_name"
	fieldModuleType  = "module_type" // legacy alias for policy_name
	fieldConfig      = "config"
	fieldProfile     = "patient_profile"
	fieldPerformance = "performance_metrics"
	fieldSensors     = "sensor_data"
	fieldTask        = "task_state"
	fieldTimestamp   = "timestamp"
	fieldReward      = "reward"
	fieldHandle      = "handle"
	fieldStatus      = "status"
)

// #region encode
// toStruct converts a Go map into a Struct. Values that structpb cannot take
// directly (typed maps, int slices, arrays, structs) are normalized first.
func toStruct(m map[string]any) (*structpb.Struct, error) {
	norm := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		norm[k] = nv
	}
	return structpb.NewStruct(norm)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, int, int32, int64, uint32, uint64, float32:
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return t.Seconds(), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	case map[string]float64:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	}
	// Anything else goes through its JSON form.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func okReply(extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{fieldStatus: "ok"}
	for k, v := range extra {
		m[k] = v
	}
	return toStruct(m)
}

func decisionStruct(d state.Decision, at time.Time) (*structpb.Struct, error) {
	ann := make([]any, len(d.Annotations))
	for i, a := range d.Annotations {
		ann[i] = a
	}
	return toStruct(map[string]any{
		"action":          string(d.Action),
		"magnitude":       d.Magnitude,
		"parameters":      d.Params(),
		"confidence":      d.Confidence,
		"explanation":     d.Explanation,
		"safety_modified": d.SafetyModified,
		"annotations":     ann,
		fieldTimestamp:    float64(at.UnixMilli()) / 1000,
	})
}

func metadataMap(md policy.Metadata) map[string]any {
	caps := make([]any, len(md.Capabilities))
	for i, c := range md.Capabilities {
		caps[i] = c
	}
	return map[string]any{
		fieldPolicyName: md.Name,
		"version":       md.Version,
		"capabilities":  caps,
		"details":       md.Details,
	}
}

// #endregion encode

// #region decode
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// floatMap reads a map of numbers. A non-numeric entry is a validation error.
func floatMap(m map[string]any, key string) (map[string]float64, error) {
	raw := mapField(m, key)
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	var bad []string
	for k, v := range raw {
		f, ok := v.(float64)
		if !ok {
			bad = append(bad, k)
			continue
		}
		out[k] = f
	}
	if len(bad) > 0 {
		slices.Sort(bad)
		return nil, &state.ValidationError{Invalid: bad, Reason: key + " values must be numeric"}
	}
	return out, nil
}

func requireSession(m map[string]any) (string, error) {
	id := stringField(m, fieldSessionID)
	if id == "" {
		return "", &state.ValidationError{Missing: []string{fieldSessionID}}
	}
	return id, nil
}

// stateVector decodes a ComputeAdaptation request. timestamp is seconds since
// the epoch; zero means now.
func stateVector(m map[string]any) (state.StateVector, error) {
	sv := state.StateVector{SessionID: stringField(m, fieldSessionID)}
	var err error
	if sv.Performance, err = floatMap(m, fieldPerformance); err != nil {
		return sv, err
	}
	if sv.Sensors, err = floatMap(m, fieldSensors); err != nil {
		return sv, err
	}
	if sv.Task, err = floatMap(m, fieldTask); err != nil {
		return sv, err
	}
	if ts, ok := m[fieldTimestamp].(float64); ok && ts > 0 {
		sec, frac := math.Modf(ts)
		sv.Timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	} else {
		sv.Timestamp = time.Now().UTC()
	}
	return sv, nil
}

func stateVectorMap(sv state.StateVector) map[string]any {
	m := map[string]any{
		fieldSessionID:   sv.SessionID,
		fieldPerformance: sv.Performance,
		fieldSensors:     sv.Sensors,
		fieldTask:        sv.Task,
	}
	if !sv.Timestamp.IsZero() {
		m[fieldTimestamp] = float64(sv.Timestamp.UnixNano()) / 1e9
	}
	return m
}

// decision decodes a ComputeAdaptation response.
func decision(m map[string]any) (state.Decision, error) {
	action, valid := state.ParseAction(stringField(m, "action"))
	if !valid {
		return state.Decision{}, fmt.Errorf("unknown action %q in response", m["action"])
	}
	d := state.Decision{
		Action:      action,
		Explanation: stringField(m, "explanation"),
		Parameters:  mapField(m, "parameters"),
	}
	d.Magnitude, _ = m["magnitude"].(float64)
	d.Confidence, _ = m["confidence"].(float64)
	d.SafetyModified, _ = m["safety_modified"].(bool)
	if change, ok := d.Parameters[state.KeyDifficultyChange].(float64); ok {
		d.DifficultyChange = change
		delete(d.Parameters, state.KeyDifficultyChange)
	}
	if ann, ok := m["annotations"].([]any); ok {
		for _, a := range ann {
			if s, ok := a.(string); ok {
				d.Annotations = append(d.Annotations, s)
			}
		}
	}
	return d, nil
}

func metadata(m map[string]any) policy.Metadata {
	md := policy.Metadata{
		Name:    stringField(m, fieldPolicyName),
		Version: stringField(m, "version"),
		Details: mapField(m, "details"),
	}
	if caps, ok := m["capabilities"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok {
				md.Capabilities = append(md.Capabilities, s)
			}
		}
	}
	return md
}

// #endregion decode
