package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MemoryQuery filters board memory listings.
type MemoryQuery struct {
	IsChat bool
	Limit  int
}

// BoardSnapshot fetches the board with its tasks, agents and approvals.
func (c *Client) BoardSnapshot(ctx context.Context, boardID string) (BoardSnapshot, error) {
	var snap BoardSnapshot
	err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/snapshot", nil, nil, &snap)
	return snap, err
}

// ListBoardMemory lists board memory entries, oldest first as the backend
// returns them.
func (c *Client) ListBoardMemory(ctx context.Context, boardID string, q MemoryQuery) ([]BoardMemory, error) {
	query := pageQuery(q.Limit, 0)
	if q.IsChat {
		query.Set("is_chat", "true")
	}
	var page Page[BoardMemory]
	if err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/memory", query, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// StreamTasks opens the task event stream of a board.
func (c *Client) StreamTasks(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error) {
	return c.openStream(ctx, "/boards/"+url.PathEscape(boardID)+"/tasks/stream", sinceQuery(since))
}

// StreamApprovals opens the approval event stream of a board.
func (c *Client) StreamApprovals(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error) {
	return c.openStream(ctx, "/boards/"+url.PathEscape(boardID)+"/approvals/stream", sinceQuery(since))
}

// StreamAgents opens the agent event stream filtered to a board.
func (c *Client) StreamAgents(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error) {
	q := sinceQuery(since)
	q.Set("board_id", boardID)
	return c.openStream(ctx, "/agents/stream", q)
}

// StreamBoardMemory opens the board chat stream.
func (c *Client) StreamBoardMemory(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error) {
	q := sinceQuery(since)
	q.Set("is_chat", "true")
	return c.openStream(ctx, "/boards/"+url.PathEscape(boardID)+"/memory/stream", q)
}

// --- Boards ---

func (c *Client) ListBoards(ctx context.Context, limit, offset int) (Page[Board], error) {
	var page Page[Board]
	err := c.do(ctx, http.MethodGet, "/boards", pageQuery(limit, offset), nil, &page)
	return page, err
}

func (c *Client) GetBoard(ctx context.Context, id string) (Board, error) {
	var b Board
	err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(id), nil, nil, &b)
	return b, err
}

func (c *Client) CreateBoard(ctx context.Context, in BoardInput) (Board, error) {
	var b Board
	err := c.do(ctx, http.MethodPost, "/boards", nil, in, &b)
	return b, err
}

func (c *Client) UpdateBoard(ctx context.Context, id string, in BoardInput) (Board, error) {
	var b Board
	err := c.do(ctx, http.MethodPatch, "/boards/"+url.PathEscape(id), nil, in, &b)
	return b, err
}

func (c *Client) DeleteBoard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/boards/"+url.PathEscape(id), nil, nil, nil)
}

// --- Tasks ---

func (c *Client) CreateTask(ctx context.Context, boardID string, in TaskInput) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodPost, "/boards/"+url.PathEscape(boardID)+"/tasks", nil, in, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, boardID, taskID string, in TaskInput) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodPatch, "/boards/"+url.PathEscape(boardID)+"/tasks/"+url.PathEscape(taskID), nil, in, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, boardID, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/boards/"+url.PathEscape(boardID)+"/tasks/"+url.PathEscape(taskID), nil, nil, nil)
}

// --- Approvals ---

func (c *Client) ListApprovals(ctx context.Context, boardID, status string) ([]Approval, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var page Page[Approval]
	if err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/approvals", q, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// DecideApproval sets an approval to approved or rejected.
func (c *Client) DecideApproval(ctx context.Context, boardID, approvalID, status string) (Approval, error) {
	var a Approval
	body := map[string]string{"status": status}
	err := c.do(ctx, http.MethodPatch, "/boards/"+url.PathEscape(boardID)+"/approvals/"+url.PathEscape(approvalID), nil, body, &a)
	return a, err
}

// --- Chat ---

// SendChat posts a chat message to the board.
func (c *Client) SendChat(ctx context.Context, boardID, content string) (BoardMemory, error) {
	var m BoardMemory
	body := map[string]any{
		"content": content,
		"is_chat": true,
		"tags":    []string{"chat"},
	}
	err := c.do(ctx, http.MethodPost, "/boards/"+url.PathEscape(boardID)+"/memory", nil, body, &m)
	return m, err
}
