package backend

import (
	"encoding/json"
	"time"
)

// Task statuses used by the kanban columns.
const (
	TaskInbox      = "inbox"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Page is the envelope returned by list endpoints.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type Gateway struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	WorkspaceRoot string    `json:"workspace_root,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	GatewayID   string    `json:"gateway_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Agent struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id,omitempty"`
	GatewayID   string     `json:"gateway_id,omitempty"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	IsBoardLead bool       `json:"is_board_lead,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Task struct {
	ID                    string     `json:"id"`
	BoardID               string     `json:"board_id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	Status                string     `json:"status"`
	Priority              string     `json:"priority,omitempty"`
	AssignedAgentID       string     `json:"assigned_agent_id,omitempty"`
	DueAt                 *time.Time `json:"due_at,omitempty"`
	ApprovalsCount        int        `json:"approvals_count"`
	ApprovalsPendingCount int        `json:"approvals_pending_count"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type TaskComment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Approval struct {
	ID         string          `json:"id"`
	BoardID    string          `json:"board_id"`
	TaskID     string          `json:"task_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	ActionType string          `json:"action_type"`
	Confidence float64         `json:"confidence,omitempty"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// BoardMemory is a board memory entry. Chat messages are memory entries
// with IsChat set.
type BoardMemory struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	IsChat    bool      `json:"is_chat"`
	CreatedAt time.Time `json:"created_at"`
}

// BoardSnapshot is the one-shot view of a board used to seed local state.
type BoardSnapshot struct {
	Board                 Board      `json:"board"`
	Tasks                 []Task     `json:"tasks"`
	Agents                []Agent    `json:"agents"`
	Approvals             []Approval `json:"approvals"`
	PendingApprovalsCount int        `json:"pending_approvals_count"`
}

// TaskApprovalCounts patches a task's approval counters.
type TaskApprovalCounts struct {
	TaskID                string `json:"task_id"`
	ApprovalsCount        int    `json:"approvals_count"`
	ApprovalsPendingCount int    `json:"approvals_pending_count"`
}

// Stream payloads. Event names on the wire are "task", "approval",
// "agent" and "memory".

type TaskEvent struct {
	Type    string       `json:"type"`
	Task    *Task        `json:"task,omitempty"`
	Comment *TaskComment `json:"comment,omitempty"`
}

type ApprovalEvent struct {
	Approval              Approval             `json:"approval"`
	TaskCounts            []TaskApprovalCounts `json:"task_counts,omitempty"`
	PendingApprovalsCount *int                 `json:"pending_approvals_count,omitempty"`
}

type AgentEvent struct {
	Agent Agent `json:"agent"`
}

type MemoryEvent struct {
	Memory BoardMemory `json:"memory"`
}

// Mutation requests.

type BoardInput struct {
	Name        string `json:"name,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	GatewayID   string `json:"gateway_id,omitempty"`
}

type AgentInput struct {
	Name      string `json:"name,omitempty"`
	BoardID   string `json:"board_id,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
}

type GatewayInput struct {
	Name          string `json:"name,omitempty"`
	URL           string `json:"url,omitempty"`
	Token         string `json:"token,omitempty"`
	WorkspaceRoot string `json:"workspace_root,omitempty"`
}

type TaskInput struct {
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status,omitempty"`
	Priority        string `json:"priority,omitempty"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
}
