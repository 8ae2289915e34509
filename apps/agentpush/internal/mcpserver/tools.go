package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/incoming"
	"github.com/slush-dev/agentpush/store"
)

func (g *AgentPushMCPServer) registerTools() {
	// Payload tools
	g.server.AddTool(decodeCallInviteTool(), g.handleDecodeCallInvite)
	g.server.AddTool(presentCallTool(), g.handlePresentCall)

	// Agent record tools
	g.server.AddTool(getAgentTool(), g.handleGetAgent)
	g.server.AddTool(setAgentStatusTool(), g.handleSetAgentStatus)
	g.server.AddTool(syncTokenTool(), g.handleSyncToken)
}

// decodeArgs unmarshals tool arguments, tolerating an absent object.
func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

// --- Payload tools ---

func decodeCallInviteTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "decode_call_invite",
		Description: "Decode an incoming-call push payload (JSON object string) and report whether it is complete.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"payload": {"type": "string", "description": "Data message as a JSON object string, e.g. {\"accountId\":\"...\",\"fromNo\":\"+1...\"}"}
			},
			"required": ["payload"]
		}`),
	}
}

type inviteView struct {
	AccountID     string `json:"accountId"`
	ApplicationID string `json:"applicationId"`
	FromNo        string `json:"fromNo"`
	ToNo          string `json:"toNo"`
	Token         string `json:"token,omitempty"`
	Version       int    `json:"version"`
	Valid         bool   `json:"valid"`
}

func newInviteView(p agentpush.CallInvitePayload) inviteView {
	return inviteView{
		AccountID:     p.AccountID(),
		ApplicationID: p.ApplicationID(),
		FromNo:        p.FromNo(),
		ToNo:          p.ToNo(),
		Token:         p.Token(),
		Version:       int(p.Version()),
		Valid:         p.Valid(),
	}
}

func (g *AgentPushMCPServer) handleDecodeCallInvite(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Payload string `json:"payload"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Payload) == "" {
		return errorResult("payload is required"), nil
	}

	invite, err := agentpush.ParseCallInviteString(args.Payload)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(newInviteView(invite))
}

func presentCallTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "present_call",
		Description: "Present an incoming call: mark the agent Ringing, then accept or decline it. An accepted call returns the handoff and puts the agent back to Idle.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"payload": {"type": "string", "description": "Data message as a JSON object string"},
				"decision": {"type": "string", "enum": ["accept", "decline"], "description": "What to do with the call (default: decline)"},
				"user_id": {"type": "string", "description": "Agent to mark (default: configured user)"}
			},
			"required": ["payload"]
		}`),
	}
}

func (g *AgentPushMCPServer) handlePresentCall(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Payload  string `json:"payload"`
		Decision string `json:"decision"`
		UserID   string `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Payload) == "" {
		return errorResult("payload is required"), nil
	}
	decision, err := incoming.ParseDecision(args.Decision)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	deps := incoming.Deps{Handler: g.handler, Logger: g.logger}
	if g.sync != nil {
		deps.Status = g.sync
		// A missing user leaves the status untouched but still presents.
		deps.UserID, _ = g.resolveUser(args.UserID)
	}
	res := incoming.NewRunner(deps, incoming.Always(decision), 0).Present(ctx, args.Payload)

	g.mu.Lock()
	g.last = &res
	g.mu.Unlock()
	_ = g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: statusURI})

	out := map[string]any{
		"state":  res.State.String(),
		"caller": res.Caller,
	}
	if res.Handoff != nil {
		out["handoff"] = res.Handoff
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	if errors.Is(res.Err, incoming.ErrNoInvite) {
		data, _ := json.Marshal(out)
		return errorResult(string(data)), nil
	}
	return jsonResult(out)
}

// --- Agent record tools ---

func getAgentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_agent",
		Description: "Read an agent's status record (status, push token, device name).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_id": {"type": "string", "description": "Agent id (default: configured user)"}
			}
		}`),
	}
}

func (g *AgentPushMCPServer) handleGetAgent(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	syncer, err := g.ensureSync()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	user, err := g.resolveUser(args.UserID)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	rec, err := syncer.Record(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(fmt.Sprintf("agent %s not found", user)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("reading agent: %v", err)), nil
	}
	return jsonResult(map[string]any{"user_id": user, "record": rec})
}

func setAgentStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_agent_status",
		Description: "Overwrite an agent's status field, e.g. Idle or Ringing. Other fields are left alone.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "description": "New status value"},
				"user_id": {"type": "string", "description": "Agent id (default: configured user)"}
			},
			"required": ["status"]
		}`),
	}
}

func (g *AgentPushMCPServer) handleSetAgentStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Status string `json:"status"`
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	args.Status = strings.TrimSpace(args.Status)
	if args.Status == "" {
		return errorResult("status is required"), nil
	}
	syncer, err := g.ensureSync()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	user, err := g.resolveUser(args.UserID)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	if err := syncer.UpdateStatus(ctx, user, args.Status); err != nil {
		return errorResult(fmt.Sprintf("updating status: %v", err)), nil
	}
	_ = g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: agentURIPrefix + user})
	return jsonResult(map[string]any{"user_id": user, "status": args.Status})
}

func syncTokenTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "sync_token",
		Description: "Fetch the device push token and merge it into the agent record with status Idle.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_id": {"type": "string", "description": "Agent id (default: configured user)"}
			}
		}`),
	}
}

func (g *AgentPushMCPServer) handleSyncToken(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	syncer, err := g.ensureSync()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	user, err := g.resolveUser(args.UserID)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res, err := syncer.FetchAndSyncToken(ctx, user)
	if err != nil {
		return errorResult(fmt.Sprintf("syncing token: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"user_id": user,
		"outcome": res.Outcome.String(),
		"synced":  res.Outcome == agentpush.TokenSuccess && res.Token != "",
		"device":  syncer.DeviceName(),
	})
}
