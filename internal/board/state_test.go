package board

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/missionctl/missionctl/internal/backend"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time {
	return t0.Add(time.Duration(min) * time.Minute)
}

func intPtr(n int) *int { return &n }

func seedSnapshot() backend.BoardSnapshot {
	return backend.BoardSnapshot{
		Board: backend.Board{ID: "b1", Name: "Ops"},
		Tasks: []backend.Task{
			{ID: "t1", BoardID: "b1", Title: "Deploy", Status: backend.TaskInbox, CreatedAt: at(0), UpdatedAt: at(1)},
			{ID: "t2", BoardID: "b1", Title: "Review", Status: backend.TaskReview, CreatedAt: at(2), UpdatedAt: at(3),
				ApprovalsCount: 1, ApprovalsPendingCount: 1},
		},
		Approvals: []backend.Approval{
			{ID: "a1", BoardID: "b1", TaskID: "t2", Status: backend.ApprovalPending, CreatedAt: at(4)},
		},
		Agents: []backend.Agent{
			{ID: "ag1", BoardID: "b1", Name: "scout", Status: "online", CreatedAt: at(0), UpdatedAt: at(5)},
		},
		PendingApprovalsCount: 1,
	}
}

func seedChat() []backend.BoardMemory {
	return []backend.BoardMemory{
		{ID: "m2", BoardID: "b1", Content: "second", IsChat: true, CreatedAt: at(7)},
		{ID: "m1", BoardID: "b1", Content: "first", IsChat: true, CreatedAt: at(6)},
	}
}

func seededState(t *testing.T) *State {
	t.Helper()
	s := New("b1")
	s.LoadSnapshot(seedSnapshot(), seedChat())
	return s
}

func TestLoadSnapshot(t *testing.T) {
	s := seededState(t)
	v := s.View()

	if !v.Loaded {
		t.Error("Loaded = false after LoadSnapshot")
	}
	if v.Board.Name != "Ops" || len(v.Tasks) != 2 || len(v.Approvals) != 1 || len(v.Agents) != 1 {
		t.Errorf("view = %+v", v)
	}
	if v.PendingApprovals != 1 {
		t.Errorf("PendingApprovals = %d, want 1", v.PendingApprovals)
	}
	if len(v.Chat) != 2 || v.Chat[0].ID != "m1" || v.Chat[1].ID != "m2" {
		t.Errorf("chat order = %v, want m1, m2", chatIDs(v.Chat))
	}
}

func TestApplyTask_DuplicateIDsLastWriteWins(t *testing.T) {
	s := seededState(t)

	events := []backend.TaskEvent{
		{Type: "task.updated", Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskInProgress}},
		{Type: "task.created", Task: &backend.Task{ID: "t3", BoardID: "b1", Title: "New"}},
		{Type: "task.updated", Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskReview}},
		{Type: "task.updated", Task: &backend.Task{ID: "t3", BoardID: "b1", Title: "Renamed"}},
		{Type: "task.updated", Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskDone}},
	}
	for _, ev := range events {
		s.ApplyTask(ev)
	}

	v := s.View()
	seen := map[string]int{}
	for _, task := range v.Tasks {
		seen[task.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s appears %d times", id, n)
		}
	}
	if len(v.Tasks) != 3 {
		t.Fatalf("len(Tasks) = %d, want 3", len(v.Tasks))
	}
	if v.Tasks[0].ID != "t1" || v.Tasks[0].Status != backend.TaskDone {
		t.Errorf("t1 = %+v, want status done in first position", v.Tasks[0])
	}
	if v.Tasks[2].Title != "Renamed" {
		t.Errorf("t3 title = %q, want Renamed", v.Tasks[2].Title)
	}
}

func TestApplyTask_StatusAThenB(t *testing.T) {
	s := seededState(t)
	s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskInProgress}})
	s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskReview}})

	for _, task := range s.View().Tasks {
		if task.ID == "t1" && task.Status != backend.TaskReview {
			t.Errorf("t1 status = %q, want %q", task.Status, backend.TaskReview)
		}
	}
}

func TestApplyTask_OtherBoardIgnored(t *testing.T) {
	s := seededState(t)
	before := s.Version()
	if s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "x", BoardID: "other"}}) {
		t.Error("ApplyTask accepted a task from another board")
	}
	if s.Version() != before {
		t.Error("version changed")
	}
}

func TestApplyTask_CommentFeed(t *testing.T) {
	s := New("b1")
	for i := 0; i < FeedLimit+10; i++ {
		s.ApplyTask(backend.TaskEvent{
			Type: "task.comment",
			Comment: &backend.TaskComment{
				ID:        fmt.Sprintf("c%02d", i),
				TaskID:    "t1",
				Message:   "progress",
				CreatedAt: at(i),
			},
		})
	}
	// Duplicate delivery of the newest comment.
	s.ApplyTask(backend.TaskEvent{Comment: &backend.TaskComment{ID: "c59", TaskID: "t1", CreatedAt: at(59)}})

	feed := s.View().Feed
	if len(feed) != FeedLimit {
		t.Fatalf("len(Feed) = %d, want %d", len(feed), FeedLimit)
	}
	if feed[0].ID != "c59" || feed[len(feed)-1].ID != "c10" {
		t.Errorf("feed bounds = %s..%s, want c59..c10", feed[0].ID, feed[len(feed)-1].ID)
	}
	for i := 1; i < len(feed); i++ {
		if feed[i].CreatedAt.After(feed[i-1].CreatedAt) {
			t.Fatalf("feed not descending at %d", i)
		}
	}
}

func TestApplyTask_CreatedAddsActivity(t *testing.T) {
	s := New("b1")
	s.ApplyTask(backend.TaskEvent{Type: "task.created", Task: &backend.Task{ID: "t9", BoardID: "b1", Title: "Ship", CreatedAt: at(1)}})

	feed := s.View().Feed
	if len(feed) != 1 || feed[0].Kind != "task" || feed[0].Message != "Ship" {
		t.Errorf("feed = %+v", feed)
	}
}

func TestApplyApproval_TaskCountsFromPayload(t *testing.T) {
	s := seededState(t)
	s.ApplyApproval(backend.ApprovalEvent{
		Approval: backend.Approval{ID: "a1", BoardID: "b1", TaskID: "t2", Status: backend.ApprovalApproved, CreatedAt: at(4)},
		TaskCounts: []backend.TaskApprovalCounts{
			{TaskID: "t2", ApprovalsCount: 4, ApprovalsPendingCount: 2},
			{TaskID: "unknown", ApprovalsCount: 9},
		},
		PendingApprovalsCount: intPtr(7),
	})

	v := s.View()
	task := findTask(t, v, "t2")
	if task.ApprovalsCount != 4 || task.ApprovalsPendingCount != 2 {
		t.Errorf("t2 counts = %d/%d, want 4/2", task.ApprovalsCount, task.ApprovalsPendingCount)
	}
	if v.PendingApprovals != 7 {
		t.Errorf("PendingApprovals = %d, want 7", v.PendingApprovals)
	}
	if len(v.Tasks) != 2 {
		t.Errorf("counts for an unknown task created a task")
	}
}

func TestApplyApproval_RecomputedLocally(t *testing.T) {
	s := seededState(t)

	// New pending approval on t1.
	s.ApplyApproval(backend.ApprovalEvent{
		Approval: backend.Approval{ID: "a2", BoardID: "b1", TaskID: "t1", Status: backend.ApprovalPending, CreatedAt: at(8)},
	})
	v := s.View()
	if task := findTask(t, v, "t1"); task.ApprovalsCount != 1 || task.ApprovalsPendingCount != 1 {
		t.Errorf("t1 counts = %d/%d, want 1/1", task.ApprovalsCount, task.ApprovalsPendingCount)
	}
	if v.PendingApprovals != 2 {
		t.Errorf("PendingApprovals = %d, want 2", v.PendingApprovals)
	}

	// Resolving the existing one on t2.
	s.ApplyApproval(backend.ApprovalEvent{
		Approval: backend.Approval{ID: "a1", BoardID: "b1", TaskID: "t2", Status: backend.ApprovalRejected, CreatedAt: at(4)},
	})
	v = s.View()
	if task := findTask(t, v, "t2"); task.ApprovalsCount != 1 || task.ApprovalsPendingCount != 0 {
		t.Errorf("t2 counts = %d/%d, want 1/0", task.ApprovalsCount, task.ApprovalsPendingCount)
	}
	if v.PendingApprovals != 1 {
		t.Errorf("PendingApprovals = %d, want 1", v.PendingApprovals)
	}

	// Redelivery of the same decision changes nothing.
	s.ApplyApproval(backend.ApprovalEvent{
		Approval: backend.Approval{ID: "a1", BoardID: "b1", TaskID: "t2", Status: backend.ApprovalRejected, CreatedAt: at(4)},
	})
	if got := s.View().PendingApprovals; got != 1 {
		t.Errorf("PendingApprovals after redelivery = %d, want 1", got)
	}
	if n := len(s.View().Approvals); n != 2 {
		t.Errorf("len(Approvals) = %d, want 2", n)
	}
}

func TestApplyAgent(t *testing.T) {
	s := seededState(t)

	s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag1", BoardID: "b1", Name: "scout", Status: "busy"}})
	s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag2", BoardID: "b1", Name: "smith", Status: "online"}})
	v := s.View()
	if len(v.Agents) != 2 || v.Agents[0].Status != "busy" {
		t.Errorf("agents = %+v", v.Agents)
	}

	// Moving to another board removes it here.
	if !s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag2", BoardID: "b2"}}) {
		t.Error("ApplyAgent(moved) = false, want true")
	}
	if n := len(s.View().Agents); n != 1 {
		t.Errorf("len(Agents) = %d, want 1", n)
	}
}

func TestApplyMemory_ChatSortedAndDeduplicated(t *testing.T) {
	s := seededState(t)

	s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "m0", BoardID: "b1", IsChat: true, CreatedAt: at(5)}})
	s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "m3", BoardID: "b1", IsChat: true, CreatedAt: at(9)}})
	s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "m3", BoardID: "b1", IsChat: true, CreatedAt: at(9), Content: "edited"}})
	if s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "n1", BoardID: "b1", IsChat: false, CreatedAt: at(10)}}) {
		t.Error("non-chat memory was applied")
	}

	chat := s.View().Chat
	want := []string{"m0", "m1", "m2", "m3"}
	got := chatIDs(chat)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("chat = %v, want %v", got, want)
	}
	if chat[3].Content != "edited" {
		t.Errorf("m3 content = %q, want edited", chat[3].Content)
	}
}

func TestSinceCursors(t *testing.T) {
	s := seededState(t)

	if got := s.TasksSince(); !got.Equal(at(3)) {
		t.Errorf("TasksSince = %v, want %v", got, at(3))
	}
	if got := s.ApprovalsSince(); !got.Equal(at(4)) {
		t.Errorf("ApprovalsSince = %v, want %v", got, at(4))
	}
	if got := s.AgentsSince(); !got.Equal(at(5)) {
		t.Errorf("AgentsSince = %v, want %v", got, at(5))
	}
	if got := s.ChatSince(); !got.Equal(at(7)) {
		t.Errorf("ChatSince = %v, want %v", got, at(7))
	}

	resolved := at(20)
	seen := at(21)
	s.ApplyApproval(backend.ApprovalEvent{Approval: backend.Approval{ID: "a1", BoardID: "b1", Status: backend.ApprovalApproved, CreatedAt: at(4), ResolvedAt: &resolved}})
	s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag1", BoardID: "b1", LastSeenAt: &seen}})

	if got := s.ApprovalsSince(); !got.Equal(resolved) {
		t.Errorf("ApprovalsSince = %v, want resolved_at %v", got, resolved)
	}
	if got := s.AgentsSince(); !got.Equal(seen) {
		t.Errorf("AgentsSince = %v, want last_seen_at %v", got, seen)
	}

	if got := New("b1").TasksSince(); !got.IsZero() {
		t.Errorf("empty TasksSince = %v, want zero", got)
	}
}

func TestClose_NoMutationsAfter(t *testing.T) {
	s := seededState(t)
	ch, cancel := s.Watch()
	defer cancel()

	s.Close()
	before := s.View()

	if s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskDone}}) {
		t.Error("ApplyTask after Close returned true")
	}
	s.ApplyApproval(backend.ApprovalEvent{Approval: backend.Approval{ID: "a9", BoardID: "b1", Status: backend.ApprovalPending}})
	s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag9", BoardID: "b1"}})
	s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "m9", BoardID: "b1", IsChat: true}})
	s.SetStreamStatus("tasks", "streaming")
	s.LoadSnapshot(backend.BoardSnapshot{}, nil)

	after := s.View()
	if after.Version != before.Version {
		t.Errorf("version moved from %d to %d after Close", before.Version, after.Version)
	}
	if findTask(t, after, "t1").Status != backend.TaskInbox {
		t.Error("t1 changed after Close")
	}

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed by Close")
	}
}

func TestWatch_Coalesces(t *testing.T) {
	s := New("b1")
	ch, cancel := s.Watch()

	for i := 0; i < 5; i++ {
		s.SetStreamStatus("tasks", fmt.Sprintf("state-%d", i))
	}

	select {
	case <-ch:
	default:
		t.Fatal("no notification after mutations")
	}
	select {
	case <-ch:
		t.Fatal("notifications were not coalesced")
	default:
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	cancel()
}

func TestSetStreamStatus(t *testing.T) {
	s := New("b1")
	s.SetStreamStatus("tasks", "connecting")
	v1 := s.Version()
	s.SetStreamStatus("tasks", "connecting")
	if s.Version() != v1 {
		t.Error("repeated status bumped version")
	}
	s.SetStreamStatus("tasks", "streaming")

	st := s.View().Streams["tasks"]
	if st.State != "streaming" || st.ChangedAt.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestRestore(t *testing.T) {
	cached := seededState(t).View()

	s := New("b1")
	if !s.Restore(cached) {
		t.Fatal("Restore = false on empty state")
	}
	v := s.View()
	if v.Loaded {
		t.Error("restored view reports Loaded")
	}
	if len(v.Tasks) != 2 || len(v.Chat) != 2 {
		t.Errorf("restored view = %+v", v)
	}

	live := seededState(t)
	if live.Restore(cached) {
		t.Error("Restore overwrote a loaded state")
	}
	if New("b2").Restore(cached) {
		t.Error("Restore accepted a view of another board")
	}
}

func TestDeleteOptimistic(t *testing.T) {
	boards := []backend.Board{{ID: "b1"}, {ID: "b2"}, {ID: "b3"}}

	t.Run("success", func(t *testing.T) {
		l := NewBoardList(boards)
		err := l.DeleteOptimistic(context.Background(), "b2", func(ctx context.Context, id string) error {
			for _, b := range l.Items() {
				if b.ID == id {
					t.Error("board still listed while delete is in flight")
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("DeleteOptimistic: %v", err)
		}
		if got := boardIDs(l.Items()); fmt.Sprint(got) != "[b1 b3]" {
			t.Errorf("boards = %v", got)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		l := NewBoardList(boards)
		boom := errors.New("boom")
		err := l.DeleteOptimistic(context.Background(), "b2", func(ctx context.Context, id string) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		if got := boardIDs(l.Items()); fmt.Sprint(got) != "[b1 b2 b3]" {
			t.Errorf("boards after rollback = %v, want original order", got)
		}
	})
}

func findTask(t *testing.T, v View, id string) backend.Task {
	t.Helper()
	for _, task := range v.Tasks {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %s not found", id)
	return backend.Task{}
}

func chatIDs(ms []backend.BoardMemory) []string {
	var ids []string
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

func boardIDs(bs []backend.Board) []string {
	var ids []string
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestReconcile_KeepsNewerStreamUpdate(t *testing.T) {
	s := seededState(t)
	since := s.Version()

	s.ApplyTask(backend.TaskEvent{Type: "task.updated", Task: &backend.Task{
		ID: "t1", BoardID: "b1", Title: "Deploy", Status: backend.TaskDone, CreatedAt: at(0), UpdatedAt: at(10),
	}})
	s.Reconcile(seedSnapshot(), seedChat(), since)

	if got := findTask(t, s.View(), "t1"); got.Status != backend.TaskDone || !got.UpdatedAt.Equal(at(10)) {
		t.Errorf("t1 = %s @ %v, want done @ %v", got.Status, got.UpdatedAt, at(10))
	}
	if got := s.TasksSince(); !got.Equal(at(10)) {
		t.Errorf("TasksSince = %v, want %v", got, at(10))
	}
}

func TestReconcile_NewerSnapshotWins(t *testing.T) {
	s := seededState(t)
	since := s.Version()

	s.ApplyTask(backend.TaskEvent{Task: &backend.Task{
		ID: "t1", BoardID: "b1", Status: backend.TaskReview, CreatedAt: at(0), UpdatedAt: at(10),
	}})
	snap := seedSnapshot()
	snap.Tasks[0].Status = backend.TaskDone
	snap.Tasks[0].UpdatedAt = at(20)
	s.Reconcile(snap, seedChat(), since)

	if got := findTask(t, s.View(), "t1").Status; got != backend.TaskDone {
		t.Errorf("t1 status = %s, want done", got)
	}
}

func TestReconcile_KeepsRecordsCreatedDuringFetch(t *testing.T) {
	s := seededState(t)
	since := s.Version()

	s.ApplyTask(backend.TaskEvent{Type: "task.created", Task: &backend.Task{ID: "t3", BoardID: "b1", Title: "New", CreatedAt: at(11)}})
	s.ApplyApproval(backend.ApprovalEvent{Approval: backend.Approval{
		ID: "a2", BoardID: "b1", TaskID: "t2", Status: backend.ApprovalPending, CreatedAt: at(12),
	}})
	s.ApplyMemory(backend.MemoryEvent{Memory: backend.BoardMemory{ID: "m3", BoardID: "b1", Content: "third", IsChat: true, CreatedAt: at(13)}})
	s.Reconcile(seedSnapshot(), seedChat(), since)

	v := s.View()
	findTask(t, v, "t3")
	if got := findTask(t, v, "t2").ApprovalsPendingCount; got != 2 {
		t.Errorf("t2 pending = %d, want 2", got)
	}
	if len(v.Approvals) != 2 {
		t.Errorf("approvals = %+v, want a1 and a2", v.Approvals)
	}
	if v.PendingApprovals != 2 {
		t.Errorf("PendingApprovals = %d, want 2", v.PendingApprovals)
	}
	if ids := chatIDs(v.Chat); len(ids) != 3 || ids[2] != "m3" {
		t.Errorf("chat = %v, want m1 m2 m3", ids)
	}
}

func TestReconcile_ReplacesUntouchedRecords(t *testing.T) {
	s := seededState(t)
	s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "t3", BoardID: "b1", Title: "Old", CreatedAt: at(8)}})
	since := s.Version()

	snap := seedSnapshot()
	snap.Tasks = snap.Tasks[:1]
	snap.Tasks[0].Title = "Deploy v2"
	snap.Tasks[0].UpdatedAt = at(9)
	snap.Approvals = nil
	snap.PendingApprovalsCount = 0
	s.Reconcile(snap, seedChat(), since)

	v := s.View()
	if len(v.Tasks) != 1 || v.Tasks[0].Title != "Deploy v2" {
		t.Errorf("tasks = %+v, want only the renamed t1", v.Tasks)
	}
	if len(v.Approvals) != 0 || v.PendingApprovals != 0 {
		t.Errorf("approvals = %+v pending = %d, want none", v.Approvals, v.PendingApprovals)
	}
}

func TestReconcile_AgentMovedDuringFetchStaysRemoved(t *testing.T) {
	s := seededState(t)
	since := s.Version()

	s.ApplyAgent(backend.AgentEvent{Agent: backend.Agent{ID: "ag1", BoardID: "b2", Name: "scout", UpdatedAt: at(10)}})
	s.Reconcile(seedSnapshot(), seedChat(), since)

	if agents := s.View().Agents; len(agents) != 0 {
		t.Errorf("agents = %+v, want ag1 removed", agents)
	}
}

func TestReconcile_SecondPassUsesFreshSnapshot(t *testing.T) {
	s := seededState(t)
	since := s.Version()
	s.ApplyTask(backend.TaskEvent{Task: &backend.Task{ID: "t1", BoardID: "b1", Status: backend.TaskDone, UpdatedAt: at(10)}})
	s.Reconcile(seedSnapshot(), seedChat(), since)

	since = s.Version()
	snap := seedSnapshot()
	snap.Tasks[0].Status = backend.TaskReview
	s.Reconcile(snap, seedChat(), since)

	if got := findTask(t, s.View(), "t1").Status; got != backend.TaskReview {
		t.Errorf("t1 status = %s, want review from the later snapshot", got)
	}
}

func TestCloseWithError(t *testing.T) {
	s := New("b1")
	ch, cancel := s.Watch()
	defer cancel()

	boom := errors.New("token expired")
	s.CloseWithError(boom)
	s.Close()

	if _, ok := <-ch; ok {
		t.Error("watch channel still open")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err = %v, want %v", s.Err(), boom)
	}
	if New("b2").Err() != nil {
		t.Error("open state reports an error")
	}
}
