// Package boardsync keeps a board.State in sync with the backend: it loads
// the REST snapshot, then runs one stream consumer per resource.
package boardsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/backoff"
	"github.com/missionctl/missionctl/internal/board"
	"github.com/missionctl/missionctl/internal/storage"
	"github.com/missionctl/missionctl/internal/stream"
)

// Stream names, also used as metric labels and status keys.
const (
	StreamTasks     = "tasks"
	StreamApprovals = "approvals"
	StreamAgents    = "agents"
	StreamChat      = "chat"
)

const (
	defaultChatLimit    = 200
	defaultPersistDelay = 2 * time.Second
)

// Backend is the subset of backend.Client the syncer needs.
type Backend interface {
	BoardSnapshot(ctx context.Context, boardID string) (backend.BoardSnapshot, error)
	ListBoardMemory(ctx context.Context, boardID string, q backend.MemoryQuery) ([]backend.BoardMemory, error)
	StreamTasks(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error)
	StreamApprovals(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error)
	StreamAgents(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error)
	StreamBoardMemory(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error)
}

// Cache persists board views between runs. Implemented by storage.Store.
type Cache interface {
	SaveBoardView(v board.View) error
	LoadBoardView(boardID string) (board.View, time.Time, error)
}

// Metrics combines consumer telemetry with snapshot timing.
type Metrics interface {
	stream.Metrics
	ObserveSnapshot(d time.Duration, err error)
}

// Options configures a Syncer. Zero values take defaults.
type Options struct {
	Backoff backoff.Options
	// ReconcileInterval re-runs the snapshot periodically so frames dropped
	// on the streams cannot leave the state diverged. Zero disables it.
	ReconcileInterval time.Duration
	ChatLimit         int

	Cache        Cache
	PersistDelay time.Duration

	Metrics Metrics
	Logger  *slog.Logger
	// Sleep overrides the consumers' reconnect wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Syncer drives one board.State.
type Syncer struct {
	backend   Backend
	state     *board.State
	opts      Options
	consumers []*stream.Consumer
	logger    *slog.Logger
}

// New creates a Syncer for state.
func New(b Backend, state *board.State, opts Options) *Syncer {
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = defaultChatLimit
	}
	if opts.PersistDelay <= 0 {
		opts.PersistDelay = defaultPersistDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		backend: b,
		state:   state,
		opts:    opts,
		logger:  logger.With("component", "boardsync", "board_id", state.BoardID()),
	}
	s.consumers = s.buildConsumers()
	return s
}

// State returns the synced state.
func (s *Syncer) State() *board.State {
	return s.state
}

// Load fetches the board snapshot and chat history concurrently and seeds
// the state with them. Errors are returned as-is; there is no retry.
func (s *Syncer) Load(ctx context.Context) error {
	snap, chat, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.state.LoadSnapshot(snap, chat)
	s.logger.Debug("snapshot loaded", "tasks", len(snap.Tasks), "agents", len(snap.Agents),
		"approvals", len(snap.Approvals), "chat", len(chat))
	return nil
}

// Reconcile re-fetches the snapshot and merges it without undoing stream
// updates that arrived while the fetch was in flight.
func (s *Syncer) Reconcile(ctx context.Context) error {
	since := s.state.Version()
	snap, chat, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.state.Reconcile(snap, chat, since)
	s.logger.Debug("snapshot reconciled", "tasks", len(snap.Tasks), "agents", len(snap.Agents),
		"approvals", len(snap.Approvals), "chat", len(chat))
	return nil
}

func (s *Syncer) fetch(ctx context.Context) (backend.BoardSnapshot, []backend.BoardMemory, error) {
	start := time.Now()
	snap, chat, err := s.fetchSnapshot(ctx)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveSnapshot(time.Since(start), err)
	}
	return snap, chat, err
}

func (s *Syncer) fetchSnapshot(ctx context.Context) (backend.BoardSnapshot, []backend.BoardMemory, error) {
	boardID := s.state.BoardID()

	var (
		snap backend.BoardSnapshot
		chat []backend.BoardMemory
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.backend.BoardSnapshot(gCtx, boardID)
		if err != nil {
			return fmt.Errorf("loading board snapshot: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		chat, err = s.backend.ListBoardMemory(gCtx, boardID, backend.MemoryQuery{IsChat: true, Limit: s.opts.ChatLimit})
		if err != nil {
			return fmt.Errorf("loading board chat: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return backend.BoardSnapshot{}, nil, err
	}
	return snap, chat, nil
}

// Run restores the cached view if any, loads the snapshot and then keeps
// the state live until ctx is cancelled. A snapshot error is returned
// before any stream attaches. The state is closed when Run returns, with
// the error that stopped it.
func (s *Syncer) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.state.CloseWithError(err)
			return
		}
		s.state.Close()
	}()

	s.restore()
	if err := s.Load(ctx); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		g.Go(func() error { return c.Run(gCtx) })
	}
	if s.opts.ReconcileInterval > 0 {
		g.Go(func() error { return s.reconcileLoop(gCtx) })
	}
	if s.opts.Cache != nil {
		g.Go(func() error { return s.persist(gCtx) })
	}
	return g.Wait()
}

func (s *Syncer) buildConsumers() []*stream.Consumer {
	boardID := s.state.BoardID()
	st := s.state

	type spec struct {
		name     string
		open     func(ctx context.Context, boardID string, since time.Time) (io.ReadCloser, error)
		since    func() time.Time
		handlers map[string]stream.Handler
	}
	specs := []spec{
		{StreamTasks, s.backend.StreamTasks, st.TasksSince,
			map[string]stream.Handler{"task": stream.JSON(st.ApplyTask)}},
		{StreamApprovals, s.backend.StreamApprovals, st.ApprovalsSince,
			map[string]stream.Handler{"approval": stream.JSON(st.ApplyApproval)}},
		{StreamAgents, s.backend.StreamAgents, st.AgentsSince,
			map[string]stream.Handler{"agent": stream.JSON(st.ApplyAgent)}},
		{StreamChat, s.backend.StreamBoardMemory, st.ChatSince,
			map[string]stream.Handler{"memory": stream.JSON(st.ApplyMemory)}},
	}

	consumers := make([]*stream.Consumer, 0, len(specs))
	for _, sp := range specs {
		name, open := sp.name, sp.open
		cfg := stream.Config{
			Name: name,
			Open: func(ctx context.Context, since time.Time) (io.ReadCloser, error) {
				return open(ctx, boardID, since)
			},
			Since:    sp.since,
			Handlers: sp.handlers,
			Backoff:  backoff.New(s.opts.Backoff),
			Sleep:    s.opts.Sleep,
			OnState:  func(state stream.State) { st.SetStreamStatus(name, string(state)) },
			Metrics:  s.opts.Metrics,
			Logger:   s.logger,
		}
		consumers = append(consumers, stream.NewConsumer(cfg))
	}
	return consumers
}

func (s *Syncer) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("reconcile failed", "error", err)
		}
	}
}

func (s *Syncer) restore() {
	if s.opts.Cache == nil {
		return
	}
	v, savedAt, err := s.opts.Cache.LoadBoardView(s.state.BoardID())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading cached board", "error", err)
		}
		return
	}
	if s.state.Restore(v) {
		s.logger.Debug("restored cached board", "saved_at", savedAt)
	}
}

// persist saves the view after changes settle for PersistDelay, and once
// more on shutdown.
func (s *Syncer) persist(ctx context.Context) error {
	changes, cancel := s.state.Watch()
	defer cancel()

	var saved uint64
	save := func() {
		v := s.state.View()
		if !v.Loaded || v.Version == saved {
			return
		}
		if err := s.opts.Cache.SaveBoardView(v); err != nil {
			s.logger.Warn("caching board", "error", err)
			return
		}
		saved = v.Version
	}

	for {
		select {
		case <-ctx.Done():
			save()
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		}

		timer := time.NewTimer(s.opts.PersistDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			save()
			return nil
		case <-timer.C:
		}
		save()
	}
}
