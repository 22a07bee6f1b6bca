// Package board holds the local, live copy of one board: the collections
// seeded by the snapshot loader and patched by the stream consumers.
package board

import (
	"sync"
	"time"

	"github.com/missionctl/missionctl/internal/backend"
)

// FeedLimit caps the live feed.
const FeedLimit = 50

// FeedItem is one entry of the live activity feed.
type FeedItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamStatus is the last reported connection state of a consumer.
type StreamStatus struct {
	State     string    `json:"state"`
	ChangedAt time.Time `json:"changed_at"`
}

// View is an immutable copy of a State.
type View struct {
	BoardID          string                  `json:"board_id"`
	Board            backend.Board           `json:"board"`
	Tasks            []backend.Task          `json:"tasks"`
	Approvals        []backend.Approval      `json:"approvals"`
	Agents           []backend.Agent         `json:"agents"`
	Chat             []backend.BoardMemory   `json:"chat"`
	Feed             []FeedItem              `json:"feed"`
	PendingApprovals int                     `json:"pending_approvals"`
	Streams          map[string]StreamStatus `json:"streams,omitempty"`
	Loaded           bool                    `json:"loaded"`
	Version          uint64                  `json:"version"`
}

// State is the shared snapshot every stream consumer writes into. All
// methods are safe for concurrent use. After Close every mutation is a no-op.
type State struct {
	mu sync.RWMutex

	boardID          string
	board            backend.Board
	tasks            *Collection[backend.Task]
	approvals        *Collection[backend.Approval]
	agents           *Collection[backend.Agent]
	chat             *Collection[backend.BoardMemory]
	feed             *Collection[FeedItem]
	pendingApprovals int
	streams          map[string]StreamStatus
	loaded           bool
	version          uint64
	closed           bool
	err              error

	// touched records the version at which a stream merge last changed a
	// record, keyed by kind and ID. Reconcile uses it to keep merges made
	// while a snapshot was in flight.
	touched map[string]uint64

	watchers map[int]chan struct{}
	nextWID  int
	now      func() time.Time
}

// New creates an empty State for boardID.
func New(boardID string) *State {
	return &State{
		boardID:   boardID,
		tasks:     NewCollection(func(t backend.Task) string { return t.ID }),
		approvals: NewCollection(func(a backend.Approval) string { return a.ID }),
		agents:    NewCollection(func(a backend.Agent) string { return a.ID }),
		chat:      NewCollection(func(m backend.BoardMemory) string { return m.ID }),
		feed:      NewCollection(func(f FeedItem) string { return f.ID }),
		streams:   make(map[string]StreamStatus),
		watchers:  make(map[int]chan struct{}),
		touched:   make(map[string]uint64),
		now:       time.Now,
	}
}

// BoardID returns the board this state tracks.
func (s *State) BoardID() string {
	return s.boardID
}

// LoadSnapshot replaces the collections with a freshly fetched snapshot.
// Chat history is passed separately since it comes from its own endpoint.
func (s *State) LoadSnapshot(snap backend.BoardSnapshot, chat []backend.BoardMemory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.board = snap.Board
	s.tasks.Replace(snap.Tasks)
	s.approvals.Replace(snap.Approvals)
	s.agents.Replace(snap.Agents)
	s.pendingApprovals = snap.PendingApprovalsCount

	s.chat.Replace(nil)
	for _, m := range chat {
		if m.ID != "" {
			s.chat.Upsert(m)
		}
	}
	s.chat.Reorder(chatLess)

	clear(s.touched)
	s.loaded = true
	s.changedLocked()
	return true
}

// Reconcile merges a snapshot whose fetch started when the state was at
// version since. Records merged from the streams after that point are
// kept unless the snapshot holds a strictly newer copy, and records the
// streams created after that point survive even when the snapshot lacks
// them. Everything else is replaced as in LoadSnapshot.
func (s *State) Reconcile(snap backend.BoardSnapshot, chat []backend.BoardMemory, since uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	fresh := func(kind string) func(id string) bool {
		return func(id string) bool { return s.touched[kind+":"+id] > since }
	}

	freshApproval := fresh("approval")
	pendingFresh := false
	for _, a := range s.approvals.Items() {
		if freshApproval(a.ID) {
			pendingFresh = true
			break
		}
	}
	if !pendingFresh {
		s.pendingApprovals = snap.PendingApprovalsCount
	}

	s.board = snap.Board
	s.tasks.Replace(reconcileItems(s.tasks, snap.Tasks, taskStamp, fresh("task")))
	s.approvals.Replace(reconcileItems(s.approvals, snap.Approvals, approvalStamp, freshApproval))
	s.agents.Replace(reconcileItems(s.agents, snap.Agents, agentStamp, fresh("agent")))
	s.chat.Replace(reconcileItems(s.chat, chat, chatStamp, fresh("chat")))
	s.chat.Reorder(chatLess)

	clear(s.touched)
	s.loaded = true
	s.changedLocked()
	return true
}

// reconcileItems merges snap into local. For IDs fresh reports as changed
// locally, the local copy wins unless the snapshot copy is strictly newer,
// a locally removed record stays removed, and a local-only record is kept.
func reconcileItems[T any](local *Collection[T], snap []T, stamp func(T) time.Time, fresh func(id string) bool) []T {
	out := make([]T, 0, len(snap))
	seen := make(map[string]bool, len(snap))
	for _, v := range snap {
		id := local.idOf(v)
		seen[id] = true
		if !fresh(id) {
			out = append(out, v)
			continue
		}
		cur, ok := local.Get(id)
		switch {
		case !ok:
		case stamp(v).After(stamp(cur)):
			out = append(out, v)
		default:
			out = append(out, cur)
		}
	}
	for _, cur := range local.Items() {
		if id := local.idOf(cur); !seen[id] && fresh(id) {
			out = append(out, cur)
		}
	}
	return out
}

func taskStamp(t backend.Task) time.Time {
	return latest(t.CreatedAt, t.UpdatedAt)
}

func approvalStamp(a backend.Approval) time.Time {
	if a.ResolvedAt != nil {
		return latest(a.CreatedAt, *a.ResolvedAt)
	}
	return a.CreatedAt
}

func agentStamp(a backend.Agent) time.Time {
	if a.LastSeenAt != nil {
		return latest(a.CreatedAt, a.UpdatedAt, *a.LastSeenAt)
	}
	return latest(a.CreatedAt, a.UpdatedAt)
}

func chatStamp(m backend.BoardMemory) time.Time {
	return m.CreatedAt
}

// touchLocked marks a record as changed by the mutation in progress.
func (s *State) touchLocked(kind, id string) {
	s.touched[kind+":"+id] = s.version + 1
}

// Restore seeds an unloaded state from a cached view. It does nothing once
// a live snapshot has been loaded.
func (s *State) Restore(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.loaded || v.BoardID != s.boardID {
		return false
	}

	s.board = v.Board
	s.tasks.Replace(v.Tasks)
	s.approvals.Replace(v.Approvals)
	s.agents.Replace(v.Agents)
	s.chat.Replace(v.Chat)
	s.chat.Reorder(chatLess)
	s.feed.Replace(v.Feed)
	s.feed.Reorder(feedLess)
	s.feed.Truncate(FeedLimit)
	s.pendingApprovals = v.PendingApprovals
	s.changedLocked()
	return true
}

// ApplyTask merges a task stream event: the task is upserted and any
// comment is added to the live feed.
func (s *State) ApplyTask(ev backend.TaskEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	changed := false
	if t := ev.Task; t != nil && t.ID != "" && s.ownsBoard(t.BoardID) {
		inserted := s.tasks.Upsert(*t)
		s.touchLocked("task", t.ID)
		if inserted && ev.Type == "task.created" {
			s.addFeedLocked(FeedItem{
				ID:        "task:" + t.ID,
				Kind:      "task",
				TaskID:    t.ID,
				AgentID:   t.AssignedAgentID,
				Message:   t.Title,
				CreatedAt: t.CreatedAt,
			})
		}
		changed = true
	}
	if c := ev.Comment; c != nil && c.ID != "" {
		s.addFeedLocked(FeedItem{
			ID:        c.ID,
			Kind:      "comment",
			TaskID:    c.TaskID,
			AgentID:   c.AgentID,
			Message:   c.Message,
			CreatedAt: c.CreatedAt,
		})
		changed = true
	}

	if changed {
		s.changedLocked()
	}
	return changed
}

// ApplyApproval upserts an approval and patches the approval counters of
// the affected tasks and of the board.
func (s *State) ApplyApproval(ev backend.ApprovalEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := ev.Approval
	if s.closed || a.ID == "" || !s.ownsBoard(a.BoardID) {
		return false
	}

	prev, existed := s.approvals.Get(a.ID)
	s.approvals.Upsert(a)
	s.touchLocked("approval", a.ID)

	wasPending := existed && prev.Status == backend.ApprovalPending
	isPending := a.Status == backend.ApprovalPending
	delta := 0
	switch {
	case isPending && !wasPending:
		delta = 1
	case wasPending && !isPending:
		delta = -1
	}

	if len(ev.TaskCounts) > 0 {
		for _, tc := range ev.TaskCounts {
			t, ok := s.tasks.Get(tc.TaskID)
			if !ok {
				continue
			}
			t.ApprovalsCount = tc.ApprovalsCount
			t.ApprovalsPendingCount = tc.ApprovalsPendingCount
			s.tasks.Upsert(t)
			s.touchLocked("task", t.ID)
		}
	} else if t, ok := s.tasks.Get(a.TaskID); ok && a.TaskID != "" {
		if !existed {
			t.ApprovalsCount++
		}
		t.ApprovalsPendingCount = max(0, t.ApprovalsPendingCount+delta)
		s.tasks.Upsert(t)
		s.touchLocked("task", t.ID)
	}

	if ev.PendingApprovalsCount != nil {
		s.pendingApprovals = *ev.PendingApprovalsCount
	} else {
		s.pendingApprovals = max(0, s.pendingApprovals+delta)
	}

	s.changedLocked()
	return true
}

// ApplyAgent upserts an agent. An agent reassigned to another board is
// removed from this one.
func (s *State) ApplyAgent(ev backend.AgentEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := ev.Agent
	if s.closed || a.ID == "" {
		return false
	}

	if !s.ownsBoard(a.BoardID) {
		if _, _, ok := s.agents.Remove(a.ID); ok {
			s.touchLocked("agent", a.ID)
			s.changedLocked()
			return true
		}
		return false
	}

	s.agents.Upsert(a)
	s.touchLocked("agent", a.ID)
	s.changedLocked()
	return true
}

// ApplyMemory appends a chat message, de-duplicated by ID and kept in
// creation order. Non-chat memory is ignored.
func (s *State) ApplyMemory(ev backend.MemoryEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := ev.Memory
	if s.closed || m.ID == "" || !m.IsChat || !s.ownsBoard(m.BoardID) {
		return false
	}

	s.chat.Upsert(m)
	s.touchLocked("chat", m.ID)
	s.chat.Reorder(chatLess)
	s.changedLocked()
	return true
}

// SetStreamStatus records a consumer's connection state.
func (s *State) SetStreamStatus(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if cur, ok := s.streams[name]; ok && cur.State == state {
		return
	}
	s.streams[name] = StreamStatus{State: state, ChangedAt: s.now()}
	s.changedLocked()
}

// TasksSince returns the newest created_at/updated_at among the tasks.
func (s *State) TasksSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, t := range s.tasks.Items() {
		since = latest(since, t.CreatedAt, t.UpdatedAt)
	}
	return since
}

// ApprovalsSince returns the newest created_at/resolved_at among the approvals.
func (s *State) ApprovalsSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, a := range s.approvals.Items() {
		since = latest(since, a.CreatedAt)
		if a.ResolvedAt != nil {
			since = latest(since, *a.ResolvedAt)
		}
	}
	return since
}

// AgentsSince returns the newest updated_at/last_seen_at among the agents.
func (s *State) AgentsSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, a := range s.agents.Items() {
		since = latest(since, a.CreatedAt, a.UpdatedAt)
		if a.LastSeenAt != nil {
			since = latest(since, *a.LastSeenAt)
		}
	}
	return since
}

// ChatSince returns the created_at of the newest chat message.
func (s *State) ChatSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, m := range s.chat.Items() {
		since = latest(since, m.CreatedAt)
	}
	return since
}

// View returns a copy of the current state.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streams := make(map[string]StreamStatus, len(s.streams))
	for k, v := range s.streams {
		streams[k] = v
	}
	return View{
		BoardID:          s.boardID,
		Board:            s.board,
		Tasks:            s.tasks.Items(),
		Approvals:        s.approvals.Items(),
		Agents:           s.agents.Items(),
		Chat:             s.chat.Items(),
		Feed:             s.feed.Items(),
		PendingApprovals: s.pendingApprovals,
		Streams:          streams,
		Loaded:           s.loaded,
		Version:          s.version,
	}
}

// Version increments on every mutation.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Watch returns a channel that receives a signal after mutations. Signals
// coalesce: a slow reader sees one pending signal, never a backlog. The
// channel is closed when the state is closed or cancel is called.
func (s *State) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWID
	s.nextWID++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// Close stops all further mutations and releases watchers.
func (s *State) Close() {
	s.CloseWithError(nil)
}

// CloseWithError closes the state and records why syncing stopped, so
// watchers woken by the close can report it.
func (s *State) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w)
	}
}

// Err returns the error the state was closed with, if any.
func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *State) ownsBoard(boardID string) bool {
	return boardID == "" || boardID == s.boardID
}

func (s *State) addFeedLocked(item FeedItem) {
	s.feed.Upsert(item)
	s.feed.Reorder(feedLess)
	s.feed.Truncate(FeedLimit)
}

func (s *State) changedLocked() {
	s.version++
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func chatLess(a, b backend.BoardMemory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func feedLess(a, b FeedItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func latest(cur time.Time, ts ...time.Time) time.Time {
	for _, t := range ts {
		if t.After(cur) {
			cur = t
		}
	}
	return cur
}
