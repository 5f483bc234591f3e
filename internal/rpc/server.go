package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region server
// Server exposes an engine over gRPC.
type Server struct {
	eng *engine.Engine
	log *zap.Logger
}

var _ AdaptationService = (*Server)(nil)

// NewServer wraps eng.
func NewServer(eng *engine.Engine, log *zap.Logger) *Server {
	return &Server{eng: eng, log: logging.OrNop(log).Named("rpc")}
}

// NewGRPCServer builds a grpc.Server with the logging interceptor and the
// adaptation service registered.
func NewGRPCServer(eng *engine.Engine, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	srv := NewServer(eng, log)
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogging(srv.log))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterAdaptationService(gs, srv)
	return gs
}

// #endregion server

// #region session-lifecycle
func (s *Server) Initialize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	name := stringField(m, fieldPolicyName)
	if name == "" {
		name = stringField(m, fieldModuleType)
	}
	cfg := policy.Config(mapField(m, fieldConfig))
	profile := policy.Profile(mapField(m, fieldProfile))
	if err := s.eng.InitializeSession(ctx, id, name, cfg, profile); err != nil {
		return nil, toStatus(err)
	}
	md, err := s.eng.Metadata(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return okReply(metadataMap(md))
}

func (s *Server) SwapModule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	name := stringField(m, fieldPolicyName)
	if name == "" {
		name = stringField(m, fieldModuleType)
	}
	var cfg policy.Config
	if raw := mapField(m, fieldConfig); raw != nil {
		cfg = policy.Config(raw)
	}
	if err := s.eng.SwapModule(ctx, id, name, cfg); err != nil {
		return nil, toStatus(err)
	}
	md, err := s.eng.Metadata(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return okReply(metadataMap(md))
}

func (s *Server) EndSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSession(in.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.eng.EndSession(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return okReply(nil)
}

// #endregion session-lifecycle

// #region rounds
func (s *Server) ComputeAdaptation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	sv, err := stateVector(m)
	if err != nil {
		return nil, toStatus(err)
	}
	d, err := s.eng.ComputeAdaptation(id, sv)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := decisionStruct(d, sv.Timestamp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode decision: %v", err)
	}
	return out, nil
}

func (s *Server) UpdateFeedback(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	reward, ok := m[fieldReward].(float64)
	if !ok {
		return nil, toStatus(&state.ValidationError{Missing: []string{fieldReward}})
	}
	if err := s.eng.UpdateFeedback(id, reward); err != nil {
		return nil, toStatus(err)
	}
	return okReply(nil)
}

// #endregion rounds

// #region introspection
func (s *Server) GetMetadata(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSession(in.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}
	md, err := s.eng.Metadata(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(metadataMap(md))
}

func (s *Server) Explain(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireSession(in.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.eng.Explain(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(out)
}

func (s *Server) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.eng.Status()
	policies := make([]any, len(st.Policies))
	for i, p := range st.Policies {
		policies[i] = p
	}
	return toStruct(map[string]any{
		"is_running":           true,
		"active_sessions":      st.ActiveSessions,
		"policies":             policies,
		"sessions_created":     st.SessionsCreated,
		"total_adaptations":    st.TotalAdaptations,
		"safety_interventions": st.SafetyInterventions,
		"module_swaps":         st.ModuleSwaps,
		"average_latency_ms":   float64(st.MeanLatency) / float64(time.Millisecond),
		"uptime_s":             st.Uptime.Seconds(),
	})
}

// #endregion introspection

// #region checkpoints
func (s *Server) SaveCheckpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.eng.SaveCheckpoint(ctx, id, stringField(m, fieldHandle)); err != nil {
		return nil, toStatus(err)
	}
	return okReply(nil)
}

func (s *Server) LoadCheckpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	id, err := requireSession(m)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.eng.LoadCheckpoint(ctx, id, stringField(m, fieldHandle)); err != nil {
		return nil, toStatus(err)
	}
	return okReply(nil)
}

// #endregion checkpoints

// #region errors
// toStatus maps the engine's error taxonomy onto gRPC codes.
func toStatus(err error) error {
	var (
		ve *state.ValidationError
		up *state.UnknownPolicyError
		nf *state.SessionNotFoundError
		pe *state.PersistenceError
	)
	code := codes.Internal
	switch {
	case errors.As(err, &ve), errors.As(err, &up):
		code = codes.InvalidArgument
	case errors.As(err, &nf):
		code = codes.NotFound
	case errors.As(err, &pe):
		code = codes.Unavailable
	case errors.Is(err, state.ErrSessionExists):
		code = codes.AlreadyExists
	case errors.Is(err, state.ErrUnsupported):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// UnaryLogging logs each call with its method, status code and latency.
func UnaryLogging(log *zap.Logger) grpc.UnaryServerInterceptor {
	log = logging.OrNop(log)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		}
		if in, ok := req.(*structpb.Struct); ok {
			if id := in.GetFields()[fieldSessionID].GetStringValue(); id != "" {
				fields = append(fields, zap.String("session_id", id))
			}
		}
		switch status.Code(err) {
		case codes.OK:
			log.Debug("rpc", fields...)
		case codes.Internal, codes.Unknown:
			log.Error("rpc failed", append(fields, zap.Error(err))...)
		default:
			log.Info("rpc rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// #endregion errors
