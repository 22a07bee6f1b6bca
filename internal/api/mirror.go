// Package api serves the live board state to local tools, over HTTP and
// over MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/board"
	"github.com/missionctl/missionctl/internal/metrics"
)

const (
	maxRequestBodySize = 64 << 10
	eventsKeepAlive    = 15 * time.Second
)

// Actions performs board mutations on the backend.
// Implemented by backend.Client.
type Actions interface {
	DecideApproval(ctx context.Context, boardID, approvalID, status string) (backend.Approval, error)
	SendChat(ctx context.Context, boardID, content string) (backend.BoardMemory, error)
}

// MirrorDeps holds dependencies for the mirror API.
type MirrorDeps struct {
	State    *board.State
	Actions  Actions // optional; mutation routes return 501 without it
	Token    string
	Gatherer prometheus.Gatherer // optional; /metrics is not mounted without it
}

// NewMirrorHandler returns the local mirror API for one synced board.
// /health and /metrics are served without authentication.
func NewMirrorHandler(deps MirrorDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/board", handleBoard(deps))
		r.Get("/tasks", handleTasks(deps))
		r.Get("/approvals", handleApprovals(deps))
		r.Post("/approvals/{id}", handleDecideApproval(deps))
		r.Get("/agents", handleAgents(deps))
		r.Get("/chat", handleChat(deps))
		r.Post("/chat", handleSendChat(deps))
		r.Get("/feed", handleFeed(deps))
		r.Get("/streams", handleStreams(deps))
		r.Get("/events", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleBoard(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.State.View())
	}
}

func handleTasks(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, filterTasks(deps.State.View().Tasks, r.URL.Query().Get("status")))
	}
}

func handleApprovals(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, filterApprovals(deps.State.View().Approvals, r.URL.Query().Get("status")))
	}
}

func handleAgents(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.State.View().Agents)
	}
}

func handleChat(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, lastN(deps.State.View().Chat, limit))
	}
}

func handleFeed(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		feed := deps.State.View().Feed
		if limit > 0 && len(feed) > limit {
			feed = feed[:limit]
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

func handleStreams(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.State.View().Streams)
	}
}

type decisionRequest struct {
	Status string `json:"status"`
}

func handleDecideApproval(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Actions == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "mirror is read-only")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		a, err := decideApproval(r.Context(), deps, chi.URLParam(r, "id"), req.Status)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type chatRequest struct {
	Content string `json:"content"`
}

func handleSendChat(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Actions == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "mirror is read-only")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		m, err := sendChat(r.Context(), deps, req.Content)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

// handleEvents streams the board view as server-sent events: one "board"
// event on connect and one after each settled change.
func handleEvents(deps MirrorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		changes, cancel := deps.State.Watch()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ping := time.NewTicker(eventsKeepAlive)
		defer ping.Stop()

		send := func() bool {
			v := deps.State.View()
			payload, err := json.Marshal(v)
			if err != nil {
				slog.Error("encoding board event", "error", err)
				return false
			}
			fmt.Fprintf(w, "event: board\nid: %d\ndata: %s\n\n", v.Version, payload)
			flusher.Flush()
			return true
		}

		if !send() {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if !send() {
					return
				}
			case <-ping.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

var errInvalidDecision = errors.New("status must be approved or rejected")

func decideApproval(ctx context.Context, deps MirrorDeps, approvalID, status string) (backend.Approval, error) {
	if approvalID == "" {
		return backend.Approval{}, fmt.Errorf("%w: approval id is required", errInvalidInput)
	}
	if status != backend.ApprovalApproved && status != backend.ApprovalRejected {
		return backend.Approval{}, fmt.Errorf("%w: %w", errInvalidInput, errInvalidDecision)
	}
	a, err := deps.Actions.DecideApproval(ctx, deps.State.BoardID(), approvalID, status)
	if err != nil {
		return backend.Approval{}, err
	}
	deps.State.ApplyApproval(backend.ApprovalEvent{Approval: a})
	return a, nil
}

func sendChat(ctx context.Context, deps MirrorDeps, content string) (backend.BoardMemory, error) {
	if content == "" {
		return backend.BoardMemory{}, fmt.Errorf("%w: content is required", errInvalidInput)
	}
	m, err := deps.Actions.SendChat(ctx, deps.State.BoardID(), content)
	if err != nil {
		return backend.BoardMemory{}, err
	}
	deps.State.ApplyMemory(backend.MemoryEvent{Memory: m})
	return m, nil
}

func filterTasks(tasks []backend.Task, status string) []backend.Task {
	if status == "" {
		return tasks
	}
	out := []backend.Task{}
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func filterApprovals(approvals []backend.Approval, status string) []backend.Approval {
	if status == "" {
		return approvals
	}
	out := []backend.Approval{}
	for _, a := range approvals {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}
