package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/missionctl/missionctl/internal/backend"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPServer_Builds(t *testing.T) {
	if s := NewMCPServer(MCPDeps{State: loadedState(t)}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ListTasks(t *testing.T) {
	deps := MCPDeps{State: loadedState(t)}
	handler := mcpListTasks(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_tasks", map[string]interface{}{
		"status": "done",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var tasks []backend.Task
	if err := json.Unmarshal([]byte(toolText(t, result)), &tasks); err != nil {
		t.Fatalf("failed to parse tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Fatalf("expected only t2, got %+v", tasks)
	}
}

func TestMCPTool_PendingApprovals(t *testing.T) {
	handler := mcpPendingApprovals(MCPDeps{State: loadedState(t)})

	result, err := handler(context.Background(), makeCallToolRequest("pending_approvals", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var approvals []backend.Approval
	if err := json.Unmarshal([]byte(toolText(t, result)), &approvals); err != nil {
		t.Fatalf("failed to parse approvals: %v", err)
	}
	if len(approvals) != 1 || approvals[0].ID != "ap1" {
		t.Fatalf("expected only ap1, got %+v", approvals)
	}
}

func TestMCPTool_DecideApproval(t *testing.T) {
	st := loadedState(t)
	actions := &mockActions{}
	handler := mcpDecideApproval(MCPDeps{State: st, Actions: actions})

	result, err := handler(context.Background(), makeCallToolRequest("decide_approval", map[string]interface{}{
		"approval_id": "ap1",
		"decision":    "rejected",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "rejected") {
		t.Errorf("result = %q", toolText(t, result))
	}
	if actions.decisions["ap1"] != backend.ApprovalRejected {
		t.Errorf("decisions = %v", actions.decisions)
	}
	if st.View().PendingApprovals != 0 {
		t.Errorf("PendingApprovals = %d, want 0", st.View().PendingApprovals)
	}
}

func TestMCPTool_DecideApproval_Errors(t *testing.T) {
	tests := []struct {
		name    string
		deps    MCPDeps
		args    map[string]interface{}
		wantMsg string
	}{
		{"read only", MCPDeps{}, map[string]interface{}{"approval_id": "ap1", "decision": "approved"}, "read-only"},
		{"missing id", MCPDeps{Actions: &mockActions{}}, map[string]interface{}{"decision": "approved"}, "approval_id is required"},
		{"bad decision", MCPDeps{Actions: &mockActions{}}, map[string]interface{}{"approval_id": "ap1", "decision": "later"}, "approved or rejected"},
		{"backend", MCPDeps{Actions: &mockActions{err: errors.New("boom")}}, map[string]interface{}{"approval_id": "ap1", "decision": "approved"}, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.deps.State = loadedState(t)
			result, err := mcpDecideApproval(tt.deps)(context.Background(), makeCallToolRequest("decide_approval", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if !strings.Contains(toolText(t, result), tt.wantMsg) {
				t.Errorf("message = %q, want %q", toolText(t, result), tt.wantMsg)
			}
		})
	}
}

func TestMCPTool_SendChat(t *testing.T) {
	st := loadedState(t)
	actions := &mockActions{}
	handler := mcpSendChat(MCPDeps{State: st, Actions: actions})

	result, err := handler(context.Background(), makeCallToolRequest("send_chat", map[string]interface{}{
		"content": "eta?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "m-new") {
		t.Errorf("result = %q", toolText(t, result))
	}
	if len(actions.sent) != 1 || actions.sent[0] != "eta?" {
		t.Errorf("sent = %v", actions.sent)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("send_chat", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error without content")
	}
}

func TestMCPResource_State(t *testing.T) {
	handler := mcpResourceState(MCPDeps{State: loadedState(t)})

	contents, err := handler(context.Background(), makeReadResourceRequest("board://state"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "board://state" {
		t.Errorf("URI = %q", tc.URI)
	}

	var v struct {
		Board backend.Board  `json:"board"`
		Tasks []backend.Task `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &v); err != nil {
		t.Fatalf("failed to parse view JSON: %v", err)
	}
	if v.Board.Name != "Launch" || len(v.Tasks) != 2 {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestMCPResource_Chat(t *testing.T) {
	handler := mcpResourceChat(MCPDeps{State: loadedState(t)})

	contents, err := handler(context.Background(), makeReadResourceRequest("board://chat"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)

	var chat []backend.BoardMemory
	if err := json.Unmarshal([]byte(tc.Text), &chat); err != nil {
		t.Fatalf("failed to parse chat JSON: %v", err)
	}
	if len(chat) != 3 || chat[0].ID != "m1" {
		t.Fatalf("unexpected chat: %+v", chat)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := MCPDeps{State: loadedState(t), Actions: &mockActions{}}
	listHandler := mcpListTasks(deps)
	chatHandler := mcpSendChat(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := listHandler(context.Background(), makeCallToolRequest("list_tasks", nil)); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := chatHandler(context.Background(), makeCallToolRequest("send_chat", map[string]interface{}{"content": "ping"})); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
