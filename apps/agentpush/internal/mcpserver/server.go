package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/agentpush/incoming"
	"github.com/slush-dev/agentpush/tokensync"
)

// TokenState reports the push token currently held by the device.
// *fcm.Client implements it.
type TokenState interface {
	Token() string
}

// Options configures an AgentPushMCPServer.
type Options struct {
	// UserID is the signed-in agent, used when a tool call names no user.
	UserID string
	Sync   *tokensync.Synchronizer
	Tokens TokenState
	// Handler receives accepted calls from present_call. Optional.
	Handler incoming.CallHandler
	Version string
	Logger  *slog.Logger
}

// AgentPushMCPServer wraps an MCP server exposing agent records and call
// invites as tools and resources.
type AgentPushMCPServer struct {
	server  *mcp.Server
	sync    *tokensync.Synchronizer
	tokens  TokenState
	handler incoming.CallHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	userID string
	last   *incoming.Result
}

// New creates a new AgentPushMCPServer.
func New(opts Options) *AgentPushMCPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "agentpush",
		Version: opts.Version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	g := &AgentPushMCPServer{
		server:  s,
		sync:    opts.Sync,
		tokens:  opts.Tokens,
		handler: opts.Handler,
		logger:  logger,
		userID:  opts.UserID,
	}

	g.registerResources()
	g.registerTools()

	return g
}

// Run starts the MCP server on stdio and blocks until done.
func (g *AgentPushMCPServer) Run(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (g *AgentPushMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := g.server.Connect(ctx, t, nil)
	return err
}

// resolveUser picks the explicit user, falling back to the configured one.
func (g *AgentPushMCPServer) resolveUser(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.userID == "" {
		return "", fmt.Errorf("no user: pass user_id or configure user_id")
	}
	return g.userID, nil
}

func (g *AgentPushMCPServer) ensureSync() (*tokensync.Synchronizer, error) {
	if g.sync == nil {
		return nil, fmt.Errorf("no agent store configured")
	}
	return g.sync, nil
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
