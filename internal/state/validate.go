package state

import (
	"math"
	"slices"
)

// #region validate
// Validate checks that every required performance key is present and finite,
// and that any supplied task or sensor values are finite.
func Validate(s StateVector, required []string) error {
	var missing, invalid []string
	for _, k := range required {
		v, ok := s.Performance[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		if !finite(v) {
			invalid = append(invalid, k)
		}
	}
	for _, m := range []map[string]float64{s.Task, s.Sensors} {
		for k, v := range m {
			if !finite(v) {
				invalid = append(invalid, k)
			}
		}
	}
	if d, ok := s.Task[KeyDifficulty]; ok && finite(d) && (d < 0 || d > 1) {
		invalid = append(invalid, KeyDifficulty)
	}
	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	slices.Sort(invalid)
	return &ValidationError{Missing: missing, Invalid: slices.Compact(invalid)}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion validate

// #region clamp
// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion clamp
