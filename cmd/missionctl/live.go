package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/missionctl/missionctl/internal/api"
	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/board"
	"github.com/missionctl/missionctl/internal/boardsync"
	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/storage"
	"github.com/missionctl/missionctl/internal/tui"
)

const shutdownTimeout = 5 * time.Second

// session is one synced board with its cache.
type session struct {
	client *backend.Client
	cfg    config.Config
	state  *board.State
	syncer *boardsync.Syncer
	store  *storage.Store
}

func newSession(boardID string, m boardsync.Metrics, logger *slog.Logger) (*session, error) {
	client, cfg, err := newBackend()
	if err != nil {
		return nil, err
	}

	opts := boardsync.Options{
		Backoff:           cfg.Stream.Backoff(),
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		Metrics:           m,
		Logger:            logger,
	}
	store, err := openCache(cfg)
	if err != nil {
		printWarning("board cache unavailable: %v", err)
	} else {
		opts.Cache = store
	}

	st := board.New(boardID)
	return &session{
		client: client,
		cfg:    cfg,
		state:  st,
		syncer: boardsync.New(client, st, opts),
		store:  store,
	}, nil
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch <board-id>",
	Short: "Open the live board view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// The terminal belongs to the board view; logs go to a file.
		logFile, err := os.OpenFile(logFilePath(cfg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			defer logFile.Close()
			setupLogging(logFile, cfg.Log.Level)
		} else {
			setupLogging(io.Discard, cfg.Log.Level)
		}

		sess, err := newSession(args[0], nil, slog.Default())
		if err != nil {
			return err
		}
		defer sess.Close()

		syncCtx, cancelSync := context.WithCancel(ctx)
		syncErr := make(chan error, 1)
		go func() { syncErr <- sess.syncer.Run(syncCtx) }()

		style := "dark"
		if noColor {
			style = "notty"
		}
		uiErr := tui.Run(ctx, sess.state, sess.client, tui.Options{MarkdownStyle: style})
		cancelSync()

		if err := <-syncErr; err != nil && !errors.Is(err, context.Canceled) {
			return explain(err)
		}
		return uiErr
	},
}

// --- tail ---

var tailCmd = &cobra.Command{
	Use:   "tail <board-id>",
	Short: "Print board events as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		sess, err := newSession(args[0], nil, slog.Default())
		if err != nil {
			return err
		}
		defer sess.Close()

		printStep("Loading board %s", args[0])
		changes, cancel := sess.state.Watch()
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sess.syncer.Run(gctx) })
		g.Go(func() error {
			return tailChanges(gctx, cmd.OutOrStdout(), sess.state, changes)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return explain(err)
		}
		return nil
	},
}

// tailChanges prints one line per difference between successive views
// until ctx is done or the state is closed.
func tailChanges(ctx context.Context, w io.Writer, st *board.State, changes <-chan struct{}) error {
	prev := board.View{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			next := st.View()
			if !next.Loaded {
				continue
			}
			if !prev.Loaded {
				fmt.Fprintf(w, "%s loaded: %d tasks, %d agents, %d pending approvals\n",
					colorize(colorBold, next.Board.Name), len(next.Tasks), len(next.Agents), next.PendingApprovals)
			} else {
				for _, line := range diffViews(prev, next) {
					fmt.Fprintf(w, "%s %s\n", colorize(colorFaint, time.Now().Format("15:04:05")), line)
				}
			}
			prev = next
		}
	}
}

// diffViews describes what changed between two views, one line per change.
func diffViews(prev, next board.View) []string {
	var lines []string

	tasks := make(map[string]backend.Task, len(prev.Tasks))
	for _, t := range prev.Tasks {
		tasks[t.ID] = t
	}
	for _, t := range next.Tasks {
		old, ok := tasks[t.ID]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("task + %s %q [%s]", t.ID, t.Title, t.Status))
		case old.Status != t.Status:
			lines = append(lines, fmt.Sprintf("task ~ %s %q %s -> %s", t.ID, t.Title, old.Status, colorize(statusColor(t.Status), t.Status)))
		case old.AssignedAgentID != t.AssignedAgentID:
			lines = append(lines, fmt.Sprintf("task ~ %s %q assigned to %s", t.ID, t.Title, t.AssignedAgentID))
		}
	}

	approvals := make(map[string]backend.Approval, len(prev.Approvals))
	for _, a := range prev.Approvals {
		approvals[a.ID] = a
	}
	for _, a := range next.Approvals {
		old, ok := approvals[a.ID]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("approval + %s %s [%s]", a.ID, a.ActionType, a.Status))
		case old.Status != a.Status:
			lines = append(lines, fmt.Sprintf("approval ~ %s %s -> %s", a.ID, old.Status, colorize(statusColor(a.Status), a.Status)))
		}
	}

	agents := make(map[string]backend.Agent, len(prev.Agents))
	for _, a := range prev.Agents {
		agents[a.ID] = a
	}
	for _, a := range next.Agents {
		old, ok := agents[a.ID]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("agent + %s [%s]", a.Name, a.Status))
		case old.Status != a.Status:
			lines = append(lines, fmt.Sprintf("agent ~ %s %s -> %s", a.Name, old.Status, a.Status))
		}
	}

	seen := make(map[string]bool, len(prev.Chat))
	for _, m := range prev.Chat {
		seen[m.ID] = true
	}
	for _, m := range next.Chat {
		if !seen[m.ID] {
			from := m.Source
			if from == "" {
				from = "board"
			}
			lines = append(lines, fmt.Sprintf("chat %s: %s", from, truncate(m.Content, 120)))
		}
	}

	seenFeed := make(map[string]bool, len(prev.Feed))
	for _, f := range prev.Feed {
		seenFeed[f.ID] = true
	}
	for i := len(next.Feed) - 1; i >= 0; i-- {
		f := next.Feed[i]
		if !seenFeed[f.ID] && f.Kind == "comment" {
			lines = append(lines, fmt.Sprintf("comment on %s: %s", f.TaskID, truncate(f.Message, 120)))
		}
	}

	names := make([]string, 0, len(next.Streams))
	for n := range next.Streams {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if prev.Streams[n].State != next.Streams[n].State {
			lines = append(lines, fmt.Sprintf("stream %s %s", n, colorize(statusColor(next.Streams[n].State), next.Streams[n].State)))
		}
	}
	return lines
}

func renderChatMarkdown(md string) string {
	style := "dark"
	if noColor {
		style = "notty"
	}
	return tui.RenderMarkdown(md, style, 80)
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve <board-id>",
	Short: "Sync a board and serve it to local tools",
	Long: `Sync a board and serve it to local tools.

The mirror API listens on 127.0.0.1 (mirror.port) with /board, /tasks,
/approvals, /agents, /chat, /feed, /streams, /events and /metrics.
With --mcp an MCP server is also attached to stdin/stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		port, _ := cmd.Flags().GetInt("port")

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		sess, err := newSession(args[0], m, slog.Default())
		if err != nil {
			return err
		}
		defer sess.Close()
		if port == 0 {
			port = sess.cfg.Mirror.Port
		}

		printStep("Loading board %s", args[0])
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sess.syncer.Run(gctx) })

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		srv := &http.Server{
			Addr: addr,
			Handler: api.NewMirrorHandler(api.MirrorDeps{
				State:    sess.state,
				Actions:  sess.client,
				Token:    sess.cfg.Mirror.Token,
				Gatherer: reg,
			}),
			BaseContext: func(_ net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			slog.Info("mirror listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mirror server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if withMCP {
			mcpSrv := api.NewMCPServer(api.MCPDeps{State: sess.state, Actions: sess.client, Version: version})
			stdioSrv := server.NewStdioServer(mcpSrv)
			g.Go(func() error {
				if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("MCP stdio server error", "error", err)
				}
				return nil
			})
			slog.Info("MCP server started (stdio transport)")
		}

		err = g.Wait()
		fmt.Fprintln(os.Stderr, "shutting down...")
		if err != nil && !errors.Is(err, context.Canceled) {
			return explain(err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().Int("port", 0, "mirror port (default mirror.port)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in, backend and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	printStatus("Backend", "%s", cfg.API.BaseURL)
	if !cfg.SignedIn() {
		printStatus("Signed in", "no (%s)", config.TokenHint())
	} else {
		printStatus("Signed in", "yes")
		client := backend.NewClient(cfg.API.BaseURL, cfg.API.Token, backend.WithUserAgent("missionctl/"+version))
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		page, err := client.ListBoards(reqCtx, 1, 0)
		cancel()
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			printStatus("API", "token rejected")
		case err != nil:
			printStatus("API", "unreachable (%v)", err)
		default:
			printStatus("API", "ok, %d boards", page.Total)
		}
	}

	mirrorURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Mirror.Port)
	hc := &http.Client{Timeout: 2 * time.Second}
	if resp, err := hc.Get(mirrorURL); err != nil {
		printStatus("Mirror", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Mirror", "running on port %d", cfg.Mirror.Port)
		} else {
			printStatus("Mirror", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if store, err := openCache(cfg); err == nil {
		boards, err := store.ListCachedBoards()
		store.Close()
		if err == nil {
			printStatus("Cached boards", "%d", len(boards))
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
