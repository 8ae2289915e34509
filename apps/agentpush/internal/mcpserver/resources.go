package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/agentpush/store"
)

const (
	statusURI      = "agentpush://status"
	agentURIPrefix = "agentpush://agents/"
)

func (g *AgentPushMCPServer) registerResources() {
	g.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "Server Status",
		Description: "Configured agent, push token state and the last presented call",
		MIMEType:    "application/json",
	}, g.handleStatusResource)

	g.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: agentURIPrefix + "{id}",
		Name:        "Agent Record",
		Description: "Status record of one agent",
		MIMEType:    "application/json",
	}, g.handleAgentResource)
}

func (g *AgentPushMCPServer) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	g.mu.RLock()
	userID := g.userID
	last := g.last
	g.mu.RUnlock()

	status := map[string]any{
		"user_id":          userID,
		"token_registered": g.tokens != nil && g.tokens.Token() != "",
		"store":            g.sync != nil,
	}
	if last != nil {
		call := map[string]any{
			"state":  last.State.String(),
			"caller": last.Caller,
		}
		if last.Err != nil {
			call["error"] = last.Err.Error()
		}
		status["last_call"] = call
	}
	return jsonResource(req.Params.URI, status)
}

func (g *AgentPushMCPServer) handleAgentResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id, err := parseAgentURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	syncer, err := g.ensureSync()
	if err != nil {
		return nil, err
	}
	rec, err := syncer.Record(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading agent %s: %w", id, err)
	}
	return jsonResource(req.Params.URI, rec)
}

// parseAgentURI extracts the id from "agentpush://agents/{id}".
func parseAgentURI(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, agentURIPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid agent URI: %s", uri)
	}
	return id, nil
}

// jsonResource marshals v to JSON and wraps it in a ReadResourceResult.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
