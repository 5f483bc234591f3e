package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region client-struct
// Client calls a remote adaptation service.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the adaptation service at addr. Without options the
// connection is plaintext.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn uses an existing connection. Close does not close cc.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// #endregion constructor

// #region session-lifecycle
// Initialize starts a session and returns the active policy's metadata.
func (c *Client) Initialize(ctx context.Context, sessionID, policyName string, cfg policy.Config, profile policy.Profile) (policy.Metadata, error) {
	resp, err := c.call(ctx, MethodInitialize, map[string]any{
		fieldSessionID:  sessionID,
		fieldPolicyName: policyName,
		fieldConfig:     map[string]any(cfg),
		fieldProfile:    map[string]any(profile),
	})
	if err != nil {
		return policy.Metadata{}, fmt.Errorf("initialize rpc: %w", err)
	}
	return metadata(resp), nil
}

// SwapModule replaces the session's policy. A nil cfg keeps the session config.
func (c *Client) SwapModule(ctx context.Context, sessionID, policyName string, cfg policy.Config) (policy.Metadata, error) {
	req := map[string]any{
		fieldSessionID:  sessionID,
		fieldPolicyName: policyName,
	}
	if cfg != nil {
		req[fieldConfig] = map[string]any(cfg)
	}
	resp, err := c.call(ctx, MethodSwapModule, req)
	if err != nil {
		return policy.Metadata{}, fmt.Errorf("swap module rpc: %w", err)
	}
	return metadata(resp), nil
}

// EndSession ends a session.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if _, err := c.call(ctx, MethodEndSession, map[string]any{fieldSessionID: sessionID}); err != nil {
		return fmt.Errorf("end session rpc: %w", err)
	}
	return nil
}

// #endregion session-lifecycle

// #region rounds
// ComputeAdaptation sends one round. sv.SessionID selects the session.
func (c *Client) ComputeAdaptation(ctx context.Context, sv state.StateVector) (state.Decision, error) {
	resp, err := c.call(ctx, MethodComputeAdaptation, stateVectorMap(sv))
	if err != nil {
		return state.Decision{}, fmt.Errorf("compute adaptation rpc: %w", err)
	}
	return decision(resp)
}

// UpdateFeedback sends an external reward for the last round.
func (c *Client) UpdateFeedback(ctx context.Context, sessionID string, reward float64) error {
	_, err := c.call(ctx, MethodUpdateFeedback, map[string]any{
		fieldSessionID: sessionID,
		fieldReward:    reward,
	})
	if err != nil {
		return fmt.Errorf("update feedback rpc: %w", err)
	}
	return nil
}

// #endregion rounds

// #region introspection
// Metadata describes the session's active policy.
func (c *Client) Metadata(ctx context.Context, sessionID string) (policy.Metadata, error) {
	resp, err := c.call(ctx, MethodGetMetadata, map[string]any{fieldSessionID: sessionID})
	if err != nil {
		return policy.Metadata{}, fmt.Errorf("get metadata rpc: %w", err)
	}
	return metadata(resp), nil
}

// Explain returns the reasoning behind the session's last decision.
func (c *Client) Explain(ctx context.Context, sessionID string) (map[string]any, error) {
	resp, err := c.call(ctx, MethodExplain, map[string]any{fieldSessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("explain rpc: %w", err)
	}
	return resp, nil
}

// Status returns service-wide counters.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	resp, err := c.call(ctx, MethodGetStatus, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("get status rpc: %w", err)
	}
	return resp, nil
}

// #endregion introspection

// #region checkpoints
// SaveCheckpoint persists the session's learned state under handle.
func (c *Client) SaveCheckpoint(ctx context.Context, sessionID, handle string) error {
	_, err := c.call(ctx, MethodSaveCheckpoint, map[string]any{fieldSessionID: sessionID, fieldHandle: handle})
	if err != nil {
		return fmt.Errorf("save checkpoint rpc: %w", err)
	}
	return nil
}

// LoadCheckpoint restores the session's learned state from handle.
func (c *Client) LoadCheckpoint(ctx context.Context, sessionID, handle string) error {
	_, err := c.call(ctx, MethodLoadCheckpoint, map[string]any{fieldSessionID: sessionID, fieldHandle: handle})
	if err != nil {
		return fmt.Errorf("load checkpoint rpc: %w", err)
	}
	return nil
}

// #endregion checkpoints
