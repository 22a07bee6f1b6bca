package board

import (
	"context"
	"sync"

	"github.com/missionctl/missionctl/internal/backend"
)

// BoardList is the local list of boards shown by the board index.
type BoardList struct {
	mu     sync.Mutex
	boards *Collection[backend.Board]
}

// NewBoardList creates a list seeded with boards.
func NewBoardList(boards []backend.Board) *BoardList {
	l := &BoardList{boards: NewCollection(func(b backend.Board) string { return b.ID })}
	l.boards.Replace(boards)
	return l
}

// Items returns the boards in display order.
func (l *BoardList) Items() []backend.Board {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.boards.Items()
}

// Upsert adds or replaces a board.
func (l *BoardList) Upsert(b backend.Board) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boards.Upsert(b)
}

// DeleteOptimistic removes id from the list before calling del. If del
// fails the board is put back at its former position and the error is
// returned.
func (l *BoardList) DeleteOptimistic(ctx context.Context, id string, del func(ctx context.Context, id string) error) error {
	l.mu.Lock()
	removed, pos, ok := l.boards.Remove(id)
	l.mu.Unlock()

	if err := del(ctx, id); err != nil {
		if ok {
			l.mu.Lock()
			l.boards.InsertAt(pos, removed)
			l.mu.Unlock()
		}
		return err
	}
	return nil
}
