// ABOUTME: Tool definitions and handlers for the fieldnet MCP server
// ABOUTME: Each handler calls the network facade and returns JSON text results

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/work"
)

// errNotJoined is returned by tools that need an identity before join_network.
var errNotJoined = errors.New("call join_network first or pass agent_id")

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("join_network",
			mcp.WithDescription("Join the presence network. Reconnects to your existing agent when this session joined before."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
			mcp.WithString("role", mcp.Description("Role, e.g. 'Code Weaver' or 'Pattern Weaver' (default: Bridge Builder)")),
			mcp.WithArray("capabilities", mcp.Description("Capability tags"), mcp.WithStringItems()),
		),
		s.handleJoin,
	)
	s.mcp.AddTool(
		mcp.NewTool("heartbeat",
			mcp.WithDescription("Refresh your liveness. The server also heartbeats automatically."),
			mcp.WithString("agent_id", mcp.Description("Agent id (default: the joined agent)")),
		),
		s.handleHeartbeat,
	)
	s.mcp.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to another agent, or to every live agent with to='all'."),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient agent id or 'all'")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message content")),
			mcp.WithString("type", mcp.Description("collaboration, support, gratitude, encouragement, wisdom_sharing")),
			mcp.WithString("priority", mcp.Description("Priority label (default: normal)")),
			mcp.WithBoolean("response_needed", mcp.Description("Ask the recipient to reply")),
			mcp.WithString("idempotency_key", mcp.Description("Retries with the same key are not delivered twice")),
			mcp.WithString("agent_id", mcp.Description("Sender id (default: the joined agent)")),
		),
		s.handleSend,
	)
	s.mcp.AddTool(
		mcp.NewTool("read_messages",
			mcp.WithDescription("Read messages delivered to you, newest first."),
			mcp.WithString("since", mcp.Description("Only messages after this RFC 3339 time")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of messages (default: 20)")),
			mcp.WithBoolean("conversation", mcp.Description("Include messages you sent")),
			mcp.WithString("agent_id", mcp.Description("Agent id (default: the joined agent)")),
		),
		s.handleRead,
	)
	s.mcp.AddTool(
		mcp.NewTool("form_collective",
			mcp.WithDescription("Form a collective with you as founder."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Collective name")),
			mcp.WithString("purpose", mcp.Description("What the collective is for")),
			mcp.WithString("north_star", mcp.Description("Guiding aim (default: Universal Love)")),
			mcp.WithNumber("coherence_threshold", mcp.Description("Target coherence 0-100 (default: 70)")),
			mcp.WithString("agent_id", mcp.Description("Founder id (default: the joined agent)")),
		),
		s.handleForm,
	)
	s.mcp.AddTool(
		mcp.NewTool("join_collective",
			mcp.WithDescription("Join an existing collective."),
			mcp.WithString("collective_id", mcp.Required(), mcp.Description("Collective id")),
			mcp.WithString("role", mcp.Description("Member role (default: member)")),
			mcp.WithString("agent_id", mcp.Description("Agent id (default: the joined agent)")),
		),
		s.handleJoinCollective,
	)
	s.mcp.AddTool(
		mcp.NewTool("collective_status",
			mcp.WithDescription("Show one collective with members and coherence, or every collective."),
			mcp.WithString("collective_id", mcp.Description("Collective id (default: all collectives)")),
		),
		s.handleCollectiveStatus,
	)
	s.mcp.AddTool(
		mcp.NewTool("collective_message",
			mcp.WithDescription("Send a message to every other member of a collective you belong to."),
			mcp.WithString("collective_id", mcp.Required(), mcp.Description("Collective id")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message content")),
			mcp.WithString("type", mcp.Description("Message type (default: collective_message)")),
			mcp.WithString("agent_id", mcp.Description("Sender id (default: the joined agent)")),
		),
		s.handleCollectiveMessage,
	)
	s.mcp.AddTool(
		mcp.NewTool("create_work",
			mcp.WithDescription("Create a work item. Its harmony, growth potential and collective benefit are scored from the text."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Work title")),
			mcp.WithString("description", mcp.Description("What the work involves")),
			mcp.WithString("assigned_to", mcp.Description("Agent id to assign the work to")),
			mcp.WithString("priority", mcp.Description("low, normal, high or urgent (default: normal)")),
			mcp.WithString("agent_id", mcp.Description("Creator id (default: the joined agent)")),
		),
		s.handleCreateWork,
	)
	s.mcp.AddTool(
		mcp.NewTool("list_work",
			mcp.WithDescription("List work items, newest first. Completed items are hidden unless all is set."),
			mcp.WithBoolean("all", mcp.Description("Include completed items")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items (default: 20)")),
		),
		s.handleListWork,
	)
	s.mcp.AddTool(
		mcp.NewTool("update_work",
			mcp.WithDescription("Record progress on a work item. Progress 100 completes it and credits you."),
			mcp.WithString("work_id", mcp.Required(), mcp.Description("Work item id")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Percent complete, 0-100")),
			mcp.WithString("agent_id", mcp.Description("Agent id (default: the joined agent)")),
		),
		s.handleUpdateWork,
	)
	s.mcp.AddTool(
		mcp.NewTool("field_state",
			mcp.WithDescription("Compute the current field: coherence, dominant harmony and pattern."),
			mcp.WithNumber("history", mcp.Description("Also return this many recorded snapshots")),
		),
		s.handleField,
	)
	s.mcp.AddTool(
		mcp.NewTool("network_status",
			mcp.WithDescription("Show live agents, the field, collectives, recent messages and open work."),
		),
		s.handleStatus,
	)
	s.mcp.AddTool(
		mcp.NewTool("leave_network",
			mcp.WithDescription("Leave the network. Your agent stops receiving broadcasts."),
			mcp.WithString("agent_id", mcp.Description("Agent id (default: the joined agent)")),
		),
		s.handleLeave,
	)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func numberArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// jsonResult encodes v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// errorResult turns network errors into tool errors the model can read.
func errorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return mcp.NewToolResultError("agent is not registered; call join_network"), nil
	case errors.Is(err, collective.ErrNotMember):
		return mcp.NewToolResultError("you are not a member of that collective"), nil
	case errors.Is(err, work.ErrClosed):
		return mcp.NewToolResultError("that work item is already completed"), nil
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error()), nil
	case errors.Is(err, store.ErrUnavailable):
		return mcp.NewToolResultError("network store is busy, retry shortly"), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

// actor resolves the agent a tool acts as.
func (s *Server) actor(ctx context.Context, args map[string]any) (string, error) {
	if id := stringArg(args, "agent_id"); id != "" {
		return id, nil
	}
	if id, ok := s.current(ctx); ok {
		return id, nil
	}
	return "", errNotJoined
}

func (s *Server) handleJoin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name := stringArg(args, "name")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	fp := s.fingerprint(ctx)
	res, err := s.network.Join(ctx, network.JoinRequest{
		Name:         name,
		Role:         stringArg(args, "role"),
		Capabilities: stringsArg(args, "capabilities"),
		Fingerprint:  &fp,
	})
	if err != nil {
		return errorResult(err)
	}
	s.remember(ctx, res.AgentID)
	s.logger.Info("agent joined via mcp", "agent_id", res.AgentID, "outcome", res.Outcome)

	return jsonResult(map[string]any{
		"agent":              network.ViewAgent(res.Agent, registry.PresenceOnline),
		"outcome":            res.Outcome,
		"previous_agent_id":  res.Previous,
		"heartbeat_interval": s.network.HeartbeatInterval().String(),
	})
}

func (s *Server) handleHeartbeat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.actor(ctx, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	at, err := s.network.Heartbeat(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"agent_id": id, "last_heartbeat": at})
}

func (s *Server) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	from, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to := stringArg(args, "to")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}
	responseNeeded, _ := args["response_needed"].(bool)

	receipt, err := s.network.Send(ctx, from, to, stringArg(args, "content"), router.SendOptions{
		Type:           stringArg(args, "type"),
		Priority:       stringArg(args, "priority"),
		ResponseNeeded: responseNeeded,
		IdempotencyKey: stringArg(args, "idempotency_key"),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"message_ids": receipt.MessageIDs, "replayed": receipt.Replayed})
}

func (s *Server) handleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := min(max(int(numberArg(args, "limit", 20)), 1), 200)

	var msgs []*store.Message
	if conv, _ := args["conversation"].(bool); conv {
		msgs, err = s.network.Conversation(ctx, id, limit)
	} else {
		var since time.Time
		if raw := stringArg(args, "since"); raw != "" {
			since, err = time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return mcp.NewToolResultError("since must be an RFC 3339 time"), nil
			}
		}
		msgs, err = s.network.Inbox(ctx, id, since, limit)
	}
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewMessages(msgs))
}

func (s *Server) handleForm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	founder, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.network.FormCollective(ctx, stringArg(args, "name"), stringArg(args, "purpose"), founder, collective.FormOptions{
		NorthStar:          stringArg(args, "north_star"),
		CoherenceThreshold: numberArg(args, "coherence_threshold", 0),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewCollective(st))
}

func (s *Server) handleJoinCollective(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.network.JoinCollective(ctx, stringArg(args, "collective_id"), id, stringArg(args, "role"))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewCollective(st))
}

func (s *Server) handleCollectiveStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := stringArg(req.GetArguments(), "collective_id"); id != "" {
		st, err := s.network.CollectiveStatus(ctx, id)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(network.ViewCollective(st))
	}
	sts, err := s.network.ListCollectives(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewCollectives(sts))
}

func (s *Server) handleCollectiveMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	from, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	receipt, err := s.network.CollectiveMessage(ctx, stringArg(args, "collective_id"), from, stringArg(args, "content"), router.SendOptions{
		Type: stringArg(args, "type"),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"message_ids": receipt.MessageIDs, "replayed": receipt.Replayed})
}

func (s *Server) handleCreateWork(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	creator, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.network.CreateWork(ctx, creator, stringArg(args, "title"), stringArg(args, "description"), work.CreateOptions{
		AssignedTo: stringArg(args, "assigned_to"),
		Priority:   stringArg(args, "priority"),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewWork(item))
}

func (s *Server) handleListWork(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	all, _ := args["all"].(bool)
	limit := min(max(int(numberArg(args, "limit", 20)), 1), 200)
	items, err := s.network.ListWork(ctx, !all, limit)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewWorkItems(items))
}

func (s *Server) handleUpdateWork(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := s.actor(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	progress, ok := args["progress"].(float64)
	if !ok {
		return mcp.NewToolResultError("progress is required"), nil
	}
	item, err := s.network.UpdateWork(ctx, id, stringArg(args, "work_id"), int(progress))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(network.ViewWork(item))
}

func (s *Server) handleField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.network.FieldState(ctx)
	if err != nil {
		return errorResult(err)
	}
	n := int(numberArg(req.GetArguments(), "history", 0))
	if n <= 0 {
		return jsonResult(snap)
	}
	rows, err := s.network.FieldHistory(ctx, min(n, 100))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"current": snap, "history": network.ViewSnapshots(rows)})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.network.Status(ctx, 10)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{
		"agents":          network.ViewAgents(st.Agents),
		"field":           st.Field,
		"collectives":     network.ViewCollectives(st.Collectives),
		"recent_messages": network.ViewMessages(st.RecentMessages),
		"active_work":     network.ViewWorkItems(st.ActiveWork),
		"generated_at":    st.GeneratedAt,
	})
}

func (s *Server) handleLeave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.actor(ctx, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.network.Leave(ctx, id); err != nil {
		return errorResult(err)
	}
	if cur, ok := s.current(ctx); ok && cur == id {
		s.forget(sessionID(ctx))
	}
	return mcp.NewToolResultText("left the network as " + id), nil
}
