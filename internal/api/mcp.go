package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/board"
)

const defaultChatResourceLimit = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	State   *board.State
	Actions Actions // optional; mutation tools return an error without it
	Version string
}

// NewMCPServer creates an MCP server exposing the synced board as tools
// and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"missionctl",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("missionctl: live view of a mission control board. Read tasks and approvals, decide approvals, and post to board chat."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks on the board, optionally filtered by status."),
			mcp.WithString("status", mcp.Description("One of inbox, in_progress, review, done")),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("pending_approvals",
			mcp.WithDescription("List approvals waiting for a decision."),
		),
		mcpPendingApprovals(deps),
	)

	s.AddTool(
		mcp.NewTool("decide_approval",
			mcp.WithDescription("Approve or reject a pending approval."),
			mcp.WithString("approval_id", mcp.Description("Approval id"), mcp.Required()),
			mcp.WithString("decision", mcp.Description("approved or rejected"), mcp.Required()),
		),
		mcpDecideApproval(deps),
	)

	s.AddTool(
		mcp.NewTool("send_chat",
			mcp.WithDescription("Post a message to the board chat."),
			mcp.WithString("content", mcp.Description("Message text"), mcp.Required()),
		),
		mcpSendChat(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"board://state",
			"Board State",
			mcp.WithResourceDescription("Current board view as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"board://chat",
			"Board Chat",
			mcp.WithResourceDescription("Last 50 board chat messages"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceChat(deps),
	)

	return s
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks := filterTasks(deps.State.View().Tasks, req.GetString("status", ""))
		return mcpJSON(tasks)
	}
}

func mcpPendingApprovals(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(filterApprovals(deps.State.View().Approvals, backend.ApprovalPending))
	}
}

func mcpDecideApproval(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Actions == nil {
			return mcpError("board is read-only"), nil
		}
		id, err := req.RequireString("approval_id")
		if err != nil {
			return mcpError("approval_id is required"), nil
		}
		decision, err := req.RequireString("decision")
		if err != nil {
			return mcpError("decision is required"), nil
		}

		a, err := decideApproval(ctx, MirrorDeps{State: deps.State, Actions: deps.Actions}, id, decision)
		if err != nil {
			return mcpError(fmt.Sprintf("deciding approval: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Approval %s is now %s.", a.ID, a.Status)), nil
	}
}

func mcpSendChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Actions == nil {
			return mcpError("board is read-only"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		m, err := sendChat(ctx, MirrorDeps{State: deps.State, Actions: deps.Actions}, content)
		if err != nil {
			return mcpError(fmt.Sprintf("sending chat: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Message sent (id: %s).", m.ID)), nil
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.State.View())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal board view: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceChat(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(lastN(deps.State.View().Chat, defaultChatResourceLimit))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chat: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
