package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/safety"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region options
// Options configures an Engine. Zero-valued fields fall back to DefaultOptions.
type Options struct {
	Registry       *policy.Registry
	Bounds         safety.Bounds
	PolicyDefaults map[string]policy.Config // keyed by canonical policy name
	HistoryLimit   int
	Checkpoints    checkpoint.Opener // nil disables save/load
	Telemetry      telemetry.Publisher
	Logger         *zap.Logger
}

// DefaultOptions returns the built-in registry and default bounds with no
// checkpoint store or telemetry.
func DefaultOptions() Options {
	return Options{
		Registry:     policy.DefaultRegistry(),
		Bounds:       safety.DefaultBounds(),
		HistoryLimit: 50,
		Telemetry:    telemetry.Nop{},
	}
}

// Profile keys read by the engine itself.
const (
	ProfileInitialDifficulty = "initial_difficulty"
	ConfigSavePath           = "save_path"
	defaultDifficulty        = 0.5
)

// #endregion options

// #region status
// Status summarizes engine activity.
type Status struct {
	ActiveSessions      int           `json:"active_sessions"`
	Policies            []string      `json:"policies"`
	SessionsCreated     uint64        `json:"sessions_created"`
	TotalAdaptations    uint64        `json:"total_adaptations"`
	SafetyInterventions uint64        `json:"safety_interventions"`
	ModuleSwaps         uint64        `json:"module_swaps"`
	MeanLatency         time.Duration `json:"mean_latency_ns"`
	Uptime              time.Duration `json:"uptime_ns"`
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	SessionID   string          `json:"session_id"`
	Policy      string          `json:"policy"`
	Difficulty  float64         `json:"difficulty"`
	Adaptations int             `json:"adaptations"`
	Violations  safety.Stats    `json:"violation_stats"`
	Bounds      safety.Bounds   `json:"bounds"`
	SavePath    string          `json:"save_path,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Last        *state.Decision `json:"last_decision,omitempty"`
}

// #endregion status

// #region session
// session is owned by the engine; every field is guarded by mu.
type session struct {
	mu sync.Mutex

	id         string
	policy     policy.Policy
	policyName string
	cfg        policy.Config // caller-supplied, without engine defaults
	profile    policy.Profile
	wrapper    *safety.Wrapper
	savePath   string

	difficulty  float64
	history     []state.Round
	violations  safety.Stats
	adaptations int
	last        *state.Decision
	createdAt   time.Time

	closed bool
}

// #endregion session
