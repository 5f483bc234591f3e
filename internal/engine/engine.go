package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/safety"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region engine
// Engine owns every live session. It is safe for concurrent use: the session
// table sits behind an RWMutex and each session has its own mutex, so calls on
// different sessions never serialize on each other.
type Engine struct {
	opts Options
	log  *zap.Logger
	pub  telemetry.Publisher

	mu       sync.RWMutex
	sessions map[string]*session

	started       time.Time
	created       atomic.Uint64
	adaptations   atomic.Uint64
	interventions atomic.Uint64
	swaps         atomic.Uint64
	latencyNanos  atomic.Int64
}

// New builds an engine. Zero-valued option fields take DefaultOptions values.
func New(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.Registry == nil {
		opts.Registry = def.Registry
	}
	if opts.Bounds == (safety.Bounds{}) {
		opts.Bounds = def.Bounds
	}
	if err := opts.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("engine bounds: %w", err)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.Telemetry == nil {
		opts.Telemetry = def.Telemetry
	}
	return &Engine{
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("engine"),
		pub:      opts.Telemetry,
		sessions: make(map[string]*session),
		started:  time.Now(),
	}, nil
}

// #endregion engine

// #region initialize
// InitializeSession creates a session running the named policy. cfg is
// layered over the engine's per-policy defaults; bounds keys in it override
// the engine bounds for this session. When cfg names a save_path and the
// policy checkpoints, the saved state is loaded; a failed load is logged and
// the session starts fresh.
func (e *Engine) InitializeSession(ctx context.Context, id, policyName string, cfg policy.Config, profile policy.Profile) error {
	if id == "" {
		return &state.ValidationError{Missing: []string{"session_id"}, Reason: "session id required"}
	}
	e.mu.RLock()
	_, exists := e.sessions[id]
	e.mu.RUnlock()
	if exists {
		return fmt.Errorf("initialize %q: %w", id, state.ErrSessionExists)
	}

	p, canon, merged, bounds, err := e.build(policyName, cfg, profile)
	if err != nil {
		return err
	}

	difficulty := defaultDifficulty
	for _, key := range []string{state.KeyDifficulty, ProfileInitialDifficulty} {
		if err := profile.Float(key, &difficulty); err != nil {
			return err
		}
	}

	s := &session{
		id:         id,
		policy:     p,
		policyName: canon,
		cfg:        cfg,
		profile:    profile,
		wrapper:    safety.NewWrapper(bounds),
		savePath:   savePath(merged),
		difficulty: state.Clamp(difficulty, bounds.DifficultyMin, bounds.DifficultyMax),
		violations: make(safety.Stats),
		createdAt:  time.Now().UTC(),
	}
	if s.savePath != "" {
		e.autoLoad(ctx, s)
	}

	e.mu.Lock()
	if _, exists := e.sessions[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("initialize %q: %w", id, state.ErrSessionExists)
	}
	e.sessions[id] = s
	e.mu.Unlock()
	e.created.Add(1)

	e.log.Info("session initialized",
		zap.String("session_id", id),
		zap.String("policy", canon),
		zap.Float64("difficulty", s.difficulty))
	e.pub.Publish(telemetry.NewEvent(telemetry.EventSessionInitialized, id, canon, map[string]any{
		"difficulty": s.difficulty,
		"save_path":  s.savePath,
	}))
	return nil
}

// build instantiates and initializes a policy with engine defaults merged
// beneath cfg, and derives the session bounds from the same map.
func (e *Engine) build(name string, cfg policy.Config, profile policy.Profile) (policy.Policy, string, policy.Config, safety.Bounds, error) {
	p, err := e.opts.Registry.New(name)
	if err != nil {
		return nil, "", nil, safety.Bounds{}, err
	}
	canon := p.Name()
	merged := policy.Merge(e.opts.PolicyDefaults[canon], cfg)
	if err := p.Initialize(merged, profile); err != nil {
		return nil, "", nil, safety.Bounds{}, fmt.Errorf("initialize %s: %w", canon, err)
	}
	bounds, err := safety.BoundsFromConfig(merged, e.opts.Bounds)
	if err != nil {
		return nil, "", nil, safety.Bounds{}, err
	}
	return p, canon, merged, bounds, nil
}

func savePath(cfg policy.Config) string {
	var p string
	if err := cfg.String(ConfigSavePath, &p); err != nil {
		return ""
	}
	return p
}

// #endregion initialize

// #region lookup
func (e *Engine) lookup(id string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, &state.SessionNotFoundError{SessionID: id}
	}
	return s, nil
}

// withSession runs fn holding the session lock. Sessions ended while the
// caller waited for the lock report SessionNotFoundError.
func (e *Engine) withSession(id string, fn func(s *session) error) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &state.SessionNotFoundError{SessionID: id}
	}
	return fn(s)
}

// #endregion lookup

// #region compute
// ComputeAdaptation runs one round: validate, decide, apply safety, record.
// On error the session is unchanged.
func (e *Engine) ComputeAdaptation(id string, sv state.StateVector) (state.Decision, error) {
	start := time.Now()
	var (
		res    safety.Result
		events []telemetry.Event
	)
	err := e.withSession(id, func(s *session) error {
		if sv.SessionID != "" && sv.SessionID != id {
			return &state.ValidationError{
				Invalid: []string{"session_id"},
				Reason:  fmt.Sprintf("state vector belongs to %q, not %q", sv.SessionID, id),
			}
		}
		if err := state.Validate(sv, s.policy.RequiredKeys()); err != nil {
			return err
		}

		b := s.wrapper.Bounds()
		current := s.difficulty
		if d, ok := sv.Task[state.KeyDifficulty]; ok {
			current = state.Clamp(d, b.DifficultyMin, b.DifficultyMax)
		}
		view := sv.WithDifficulty(current)
		view.SessionID = id

		raw, err := s.policy.Decide(view)
		if err != nil {
			return err
		}
		res = s.wrapper.Validate(raw, current)
		if obs, ok := s.policy.(policy.ChangeObserver); ok {
			obs.ObserveApplied(res.Decision.DifficultyChange)
		}

		s.difficulty = res.NewDifficulty
		s.record(state.Round{
			State:      view,
			Decision:   res.Decision,
			Difficulty: res.NewDifficulty,
			At:         time.Now().UTC(),
		}, e.opts.HistoryLimit)
		s.violations.Record(res.Violations)
		s.adaptations++
		last := res.Decision
		s.last = &last

		events = append(events, telemetry.NewEvent(telemetry.EventAdaptation, id, s.policyName, map[string]any{
			"action":            string(res.Decision.Action),
			"difficulty_change": res.Decision.DifficultyChange,
			"difficulty":        res.NewDifficulty,
			"confidence":        res.Decision.Confidence,
			"safety_modified":   res.Decision.SafetyModified,
		}))
		for _, v := range res.Violations {
			events = append(events, telemetry.NewEvent(telemetry.EventSafetyViolation, id, s.policyName, map[string]any{
				"type":   string(v.Type),
				"reason": v.Reason,
				"before": v.Before,
				"after":  v.After,
			}))
		}
		return nil
	})
	if err != nil {
		return state.Decision{}, err
	}

	e.adaptations.Add(1)
	if res.Modified() {
		e.interventions.Add(1)
	}
	e.latencyNanos.Add(int64(time.Since(start)))
	for _, ev := range events {
		e.pub.Publish(ev)
	}
	e.log.Debug("adaptation computed",
		zap.String("session_id", id),
		zap.String("action", string(res.Decision.Action)),
		zap.Float64("difficulty", res.NewDifficulty),
		zap.Int("violations", len(res.Violations)))
	return res.Decision, nil
}

func (s *session) record(r state.Round, limit int) {
	if len(s.history) >= limit {
		s.history = append(s.history[:0], s.history[len(s.history)-limit+1:]...)
	}
	s.history = append(s.history, r)
}

// #endregion compute

// #region feedback
// UpdateFeedback forwards an external reward to a learning policy. Policies
// that do not learn ignore it.
func (e *Engine) UpdateFeedback(id string, reward float64) error {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return &state.ValidationError{Invalid: []string{"reward"}, Reason: "reward must be finite"}
	}
	var (
		name    string
		learned bool
	)
	err := e.withSession(id, func(s *session) error {
		name = s.policyName
		if l, ok := s.policy.(policy.Learner); ok {
			l.Feedback(reward)
			learned = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.pub.Publish(telemetry.NewEvent(telemetry.EventFeedback, id, name, map[string]any{
		"reward":  reward,
		"applied": learned,
	}))
	return nil
}

// #endregion feedback

// #region swap
// SwapModule replaces the session's policy. The new policy is built outside the
// session lock, so a bad name or config leaves the session untouched. A nil cfg
// reuses the session's current config. Difficulty and history carry over.
func (e *Engine) SwapModule(ctx context.Context, id, name string, cfg policy.Config) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &state.SessionNotFoundError{SessionID: id}
	}
	profile := s.profile
	if cfg == nil {
		cfg = s.cfg
	}
	oldPath := s.savePath
	_, oldCheckpoints := s.policy.(policy.Checkpointer)
	s.mu.Unlock()

	p, canon, merged, bounds, err := e.build(name, cfg, profile)
	if err != nil {
		return err
	}
	next := &session{id: id, policy: p, policyName: canon, savePath: savePath(merged)}
	// With a shared save_path the stored checkpoint is older than the outgoing
	// policy, so the new policy starts from the outgoing snapshot instead.
	carry := next.savePath != "" && next.savePath == oldPath && oldCheckpoints
	if next.savePath != "" && !carry {
		e.autoLoad(ctx, next)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &state.SessionNotFoundError{SessionID: id}
	}
	old, oldName := s.policy, s.policyName
	final := s.snapshot()
	var carried bool
	var carryErr error
	if cp, ok := p.(policy.Checkpointer); ok && carry && final != nil && final.err == nil {
		carried, carryErr = true, cp.Restore(final.data)
	}
	s.policy = p
	s.policyName = canon
	s.cfg = cfg
	s.savePath = next.savePath
	s.wrapper = safety.NewWrapper(bounds)
	s.difficulty = state.Clamp(s.difficulty, bounds.DifficultyMin, bounds.DifficultyMax)
	difficulty := s.difficulty
	s.mu.Unlock()

	old.Reset()
	e.writeFinal(ctx, id, oldName, final)
	if carried {
		e.reportLoad(id, canon, next.savePath, carryErr)
	}
	e.swaps.Add(1)

	e.log.Info("module swapped",
		zap.String("session_id", id),
		zap.String("from", oldName),
		zap.String("policy", canon),
		zap.Float64("difficulty", difficulty))
	e.pub.Publish(telemetry.NewEvent(telemetry.EventModuleSwapped, id, canon, map[string]any{
		"from":       oldName,
		"to":         canon,
		"difficulty": difficulty,
	}))
	return nil
}

// #endregion swap

// #region end
// EndSession closes and forgets a session. Ending an unknown session is not an
// error. Callers racing with the end observe SessionNotFoundError.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	name := s.policyName
	adaptations := s.adaptations
	violations := s.violations.Total()
	final := s.snapshot()
	s.mu.Unlock()

	e.writeFinal(ctx, id, name, final)

	e.log.Info("session ended",
		zap.String("session_id", id),
		zap.String("policy", name),
		zap.Int("adaptations", adaptations))
	e.pub.Publish(telemetry.NewEvent(telemetry.EventSessionEnded, id, name, map[string]any{
		"adaptations": adaptations,
		"violations":  violations,
	}))
	return nil
}

// Shutdown ends every live session, writing final checkpoints where
// configured. It stops early when ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		_ = e.EndSession(ctx, id)
	}
	return nil
}

// #endregion end
