package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/safety"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region per-session
// Metadata describes the session's active policy.
func (e *Engine) Metadata(id string) (policy.Metadata, error) {
	var md policy.Metadata
	err := e.withSession(id, func(s *session) error {
		md = s.policy.Metadata()
		return nil
	})
	return md, err
}

// Explain returns the policy's explanation of its last decision plus the
// session's violation counts and current difficulty.
func (e *Engine) Explain(id string) (map[string]any, error) {
	var out map[string]any
	err := e.withSession(id, func(s *session) error {
		out = maps.Clone(s.policy.Explain())
		if out == nil {
			out = make(map[string]any)
		}
		stats := make(map[string]any, len(s.violations))
		for t, n := range s.violations {
			stats[string(t)] = n
		}
		out["violation_stats"] = stats
		out["difficulty"] = s.difficulty
		out["policy"] = s.policyName
		return nil
	})
	return out, err
}

// History returns up to n of the most recent rounds, oldest first. n <= 0
// returns everything retained.
func (e *Engine) History(id string, n int) ([]state.Round, error) {
	var out []state.Round
	err := e.withSession(id, func(s *session) error {
		h := s.history
		if n > 0 && n < len(h) {
			h = h[len(h)-n:]
		}
		out = slices.Clone(h)
		return nil
	})
	return out, err
}

// Info returns a snapshot of one session.
func (e *Engine) Info(id string) (SessionInfo, error) {
	var info SessionInfo
	err := e.withSession(id, func(s *session) error {
		info = SessionInfo{
			SessionID:   s.id,
			Policy:      s.policyName,
			Difficulty:  s.difficulty,
			Adaptations: s.adaptations,
			Violations:  maps.Clone(s.violations),
			Bounds:      s.wrapper.Bounds(),
			SavePath:    s.savePath,
			CreatedAt:   s.createdAt,
		}
		if s.last != nil {
			last := *s.last
			info.Last = &last
		}
		return nil
	})
	return info, err
}

// Difficulty returns the session's current difficulty.
func (e *Engine) Difficulty(id string) (float64, error) {
	var d float64
	err := e.withSession(id, func(s *session) error {
		d = s.difficulty
		return nil
	})
	return d, err
}

// #endregion per-session

// #region engine-wide
// Sessions lists live session ids in sorted order.
func (e *Engine) Sessions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.sessions))
}

// Status reports engine-wide counters.
func (e *Engine) Status() Status {
	e.mu.RLock()
	active := len(e.sessions)
	e.mu.RUnlock()

	st := Status{
		ActiveSessions:      active,
		Policies:            e.opts.Registry.Names(),
		SessionsCreated:     e.created.Load(),
		TotalAdaptations:    e.adaptations.Load(),
		SafetyInterventions: e.interventions.Load(),
		ModuleSwaps:         e.swaps.Load(),
		Uptime:              time.Since(e.started),
	}
	if st.TotalAdaptations > 0 {
		st.MeanLatency = time.Duration(e.latencyNanos.Load() / int64(st.TotalAdaptations))
	}
	return st
}

// Bounds returns the engine-wide default safety bounds.
func (e *Engine) Bounds() safety.Bounds { return e.opts.Bounds }

// #endregion engine-wide
