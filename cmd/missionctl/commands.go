package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/board"
	"github.com/missionctl/missionctl/internal/config"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- boards ---

var boardsCmd = &cobra.Command{
	Use:     "boards",
	Aliases: []string{"board"},
	Short:   "List and manage boards",
}

var boardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cached, _ := cmd.Flags().GetBool("cached"); cached {
			return listCachedBoards(cmd)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		page, err := client.ListBoards(cmd.Context(), limit, 0)
		if err != nil {
			return explain(err)
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No boards found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tNAME\tSLUG\tUPDATED")
		for _, b := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Slug, humanize.Time(b.UpdatedAt))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if page.Total > len(page.Items) {
			fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d)\n", len(page.Items), page.Total)
		}
		return nil
	},
}

func listCachedBoards(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	boards, err := store.ListCachedBoards()
	if err != nil {
		return err
	}
	if len(boards) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cached boards.")
		return nil
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSAVED")
	for _, b := range boards {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.BoardID, b.Name, b.Version, humanize.Time(b.SavedAt))
	}
	return tw.Flush()
}

var boardsShowCmd = &cobra.Command{
	Use:   "show <board-id>",
	Short: "Show a board snapshot",
	Long: `Show a board snapshot.

With --cached the last view saved by watch or serve is shown instead,
without contacting the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		if cached, _ := cmd.Flags().GetBool("cached"); cached {
			return showCachedBoard(cmd, args[0], asJSON)
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		snap, err := client.BoardSnapshot(cmd.Context(), args[0])
		if err != nil {
			return explain(err)
		}
		st := board.New(args[0])
		st.LoadSnapshot(snap, nil)
		if asJSON {
			return printJSON(cmd.OutOrStdout(), st.View())
		}
		renderBoard(cmd.OutOrStdout(), st.View())
		return nil
	},
}

func showCachedBoard(cmd *cobra.Command, id string, asJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	view, savedAt, err := store.LoadBoardView(id)
	if err != nil {
		return fmt.Errorf("cached board %s: %w", id, err)
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), view)
	}
	fmt.Fprintln(cmd.OutOrStdout(), colorize(colorFaint, "cached "+humanize.Time(savedAt)))
	renderBoard(cmd.OutOrStdout(), view)
	return nil
}

// renderBoard prints a board view as a plain-text kanban.
func renderBoard(w io.Writer, v board.View) {
	fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, v.Board.Name), colorize(colorFaint, v.BoardID))
	if v.PendingApprovals > 0 {
		fmt.Fprintln(w, colorize(colorYellow, fmt.Sprintf("%d pending approvals", v.PendingApprovals)))
	}

	byStatus := map[string][]backend.Task{}
	for _, t := range v.Tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	for _, status := range []string{backend.TaskInbox, backend.TaskInProgress, backend.TaskReview, backend.TaskDone} {
		tasks := byStatus[status]
		fmt.Fprintf(w, "\n%s (%d)\n", colorize(colorBold, status), len(tasks))
		for _, t := range tasks {
			line := fmt.Sprintf("  %s  %s", colorize(colorCyan, t.ID), t.Title)
			if t.ApprovalsPendingCount > 0 {
				line += colorize(colorYellow, fmt.Sprintf(" [%d pending]", t.ApprovalsPendingCount))
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(v.Agents) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "agents"))
		for _, a := range v.Agents {
			fmt.Fprintf(w, "  %s  %s\n", a.Name, colorize(statusColor(a.Status), a.Status))
		}
	}
}

var boardsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a board",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := backend.BoardInput{}
		in.Name, _ = cmd.Flags().GetString("name")
		in.Slug, _ = cmd.Flags().GetString("slug")
		in.Description, _ = cmd.Flags().GetString("description")
		in.GatewayID, _ = cmd.Flags().GetString("gateway")
		if in.Name == "" {
			return fmt.Errorf("--name is required")
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		b, err := client.CreateBoard(cmd.Context(), in)
		if err != nil {
			return explain(err)
		}
		printSuccess("Created board %s (%s)", b.Name, b.ID)
		return nil
	},
}

var boardsDeleteCmd = &cobra.Command{
	Use:   "delete <board-id>",
	Short: "Delete a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		client, cfg, err := newBackend()
		if err != nil {
			return err
		}
		page, err := client.ListBoards(cmd.Context(), 0, 0)
		if err != nil {
			return explain(err)
		}

		list := board.NewBoardList(page.Items)
		if err := list.DeleteOptimistic(cmd.Context(), id, client.DeleteBoard); err != nil {
			return explain(err)
		}
		printSuccess("Deleted board %s", id)

		if store, err := openCache(cfg); err == nil {
			if err := store.DeleteBoardView(id); err == nil {
				printStep("Removed cached view")
			}
			store.Close()
		}

		out := cmd.OutOrStdout()
		for _, b := range list.Items() {
			fmt.Fprintf(out, "  %s  %s\n", colorize(colorCyan, b.ID), b.Name)
		}
		return nil
	},
}

func init() {
	boardsListCmd.Flags().Int("limit", 50, "maximum number of boards")
	boardsListCmd.Flags().Bool("cached", false, "list boards in the local cache")
	boardsShowCmd.Flags().Bool("cached", false, "show the cached view instead of fetching")
	boardsShowCmd.Flags().Bool("json", false, "print the view as JSON")
	boardsCreateCmd.Flags().String("name", "", "board name")
	boardsCreateCmd.Flags().String("slug", "", "board slug")
	boardsCreateCmd.Flags().String("description", "", "board description")
	boardsCreateCmd.Flags().String("gateway", "", "gateway id")

	boardsCmd.AddCommand(boardsListCmd)
	boardsCmd.AddCommand(boardsShowCmd)
	boardsCmd.AddCommand(boardsCreateCmd)
	boardsCmd.AddCommand(boardsDeleteCmd)
}

// --- agents ---

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List and manage agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, _ := cmd.Flags().GetString("board")
		limit, _ := cmd.Flags().GetInt("limit")

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		page, err := client.ListAgents(cmd.Context(), boardID, limit, 0)
		if err != nil {
			return explain(err)
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No agents found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tBOARD\tLAST SEEN")
		for _, a := range page.Items {
			seen := "never"
			if a.LastSeenAt != nil {
				seen = humanize.Time(*a.LastSeenAt)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Status, a.BoardID, seen)
		}
		return tw.Flush()
	},
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := backend.AgentInput{}
		in.Name, _ = cmd.Flags().GetString("name")
		in.BoardID, _ = cmd.Flags().GetString("board")
		in.GatewayID, _ = cmd.Flags().GetString("gateway")
		if in.Name == "" {
			return fmt.Errorf("--name is required")
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		a, err := client.CreateAgent(cmd.Context(), in)
		if err != nil {
			return explain(err)
		}
		printSuccess("Created agent %s (%s)", a.Name, a.ID)
		return nil
	},
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend()
		if err != nil {
			return err
		}
		if err := client.DeleteAgent(cmd.Context(), args[0]); err != nil {
			return explain(err)
		}
		printSuccess("Deleted agent %s", args[0])
		return nil
	},
}

func init() {
	agentsListCmd.Flags().String("board", "", "only agents of this board")
	agentsListCmd.Flags().Int("limit", 100, "maximum number of agents")
	agentsCreateCmd.Flags().String("name", "", "agent name")
	agentsCreateCmd.Flags().String("board", "", "board id")
	agentsCreateCmd.Flags().String("gateway", "", "gateway id")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
}

// --- gateways ---

var gatewaysCmd = &cobra.Command{
	Use:   "gateways",
	Short: "List and manage gateways",
}

var gatewaysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gateways",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend()
		if err != nil {
			return err
		}
		page, err := client.ListGateways(cmd.Context(), 100, 0)
		if err != nil {
			return explain(err)
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No gateways found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tNAME\tURL\tWORKSPACE")
		for _, g := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.ID, g.Name, g.URL, g.WorkspaceRoot)
		}
		return tw.Flush()
	},
}

var gatewaysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := backend.GatewayInput{}
		in.Name, _ = cmd.Flags().GetString("name")
		in.URL, _ = cmd.Flags().GetString("url")
		in.Token, _ = cmd.Flags().GetString("token")
		in.WorkspaceRoot, _ = cmd.Flags().GetString("workspace-root")
		if in.Name == "" || in.URL == "" {
			return fmt.Errorf("--name and --url are required")
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		g, err := client.CreateGateway(cmd.Context(), in)
		if err != nil {
			return explain(err)
		}
		printSuccess("Created gateway %s (%s)", g.Name, g.ID)
		return nil
	},
}

var gatewaysDeleteCmd = &cobra.Command{
	Use:   "delete <gateway-id>",
	Short: "Delete a gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend()
		if err != nil {
			return err
		}
		if err := client.DeleteGateway(cmd.Context(), args[0]); err != nil {
			return explain(err)
		}
		printSuccess("Deleted gateway %s", args[0])
		return nil
	},
}

func init() {
	gatewaysCreateCmd.Flags().String("name", "", "gateway name")
	gatewaysCreateCmd.Flags().String("url", "", "gateway URL")
	gatewaysCreateCmd.Flags().String("token", "", "gateway token")
	gatewaysCreateCmd.Flags().String("workspace-root", "", "workspace root on the gateway host")

	gatewaysCmd.AddCommand(gatewaysListCmd)
	gatewaysCmd.AddCommand(gatewaysCreateCmd)
	gatewaysCmd.AddCommand(gatewaysDeleteCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Create, move and delete tasks",
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create <board-id>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := backend.TaskInput{}
		in.Title, _ = cmd.Flags().GetString("title")
		in.Description, _ = cmd.Flags().GetString("description")
		in.Status, _ = cmd.Flags().GetString("status")
		in.Priority, _ = cmd.Flags().GetString("priority")
		in.AssignedAgentID, _ = cmd.Flags().GetString("assign")
		if in.Title == "" {
			return fmt.Errorf("--title is required")
		}
		if err := validTaskStatus(in.Status); err != nil {
			return err
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		t, err := client.CreateTask(cmd.Context(), args[0], in)
		if err != nil {
			return explain(err)
		}
		printSuccess("Created task %s (%s)", t.Title, t.ID)
		return nil
	},
}

var tasksMoveCmd = &cobra.Command{
	Use:   "move <board-id> <task-id> <status>",
	Short: "Move a task to another column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID, taskID, status := args[0], args[1], args[2]
		if err := validTaskStatus(status); err != nil {
			return err
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		t, err := client.UpdateTask(cmd.Context(), boardID, taskID, backend.TaskInput{Status: status})
		if err != nil {
			return explain(err)
		}
		printSuccess("Moved %s to %s", t.Title, t.Status)
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <board-id> <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newBackend()
		if err != nil {
			return err
		}
		if err := client.DeleteTask(cmd.Context(), args[0], args[1]); err != nil {
			return explain(err)
		}
		printSuccess("Deleted task %s", args[1])
		return nil
	},
}

func validTaskStatus(status string) error {
	switch status {
	case "", backend.TaskInbox, backend.TaskInProgress, backend.TaskReview, backend.TaskDone:
		return nil
	}
	return fmt.Errorf("invalid status %q (want inbox, in_progress, review or done)", status)
}

func init() {
	tasksCreateCmd.Flags().String("title", "", "task title")
	tasksCreateCmd.Flags().String("description", "", "task description")
	tasksCreateCmd.Flags().String("status", "", "initial status")
	tasksCreateCmd.Flags().String("priority", "", "priority")
	tasksCreateCmd.Flags().String("assign", "", "assigned agent id")

	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksMoveCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)
}

// --- approvals ---

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list <board-id>",
	Short: "List approvals of a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		approvals, err := client.ListApprovals(cmd.Context(), args[0], status)
		if err != nil {
			return explain(err)
		}
		if len(approvals) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No approvals found.")
			return nil
		}

		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tACTION\tSTATUS\tTASK\tCONFIDENCE\tCREATED")
		for _, a := range approvals {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				a.ID, a.ActionType, a.Status, a.TaskID, a.Confidence, humanize.Time(a.CreatedAt))
		}
		return tw.Flush()
	},
}

func decideCommand(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <board-id> <approval-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newBackend()
			if err != nil {
				return err
			}
			a, err := client.DecideApproval(cmd.Context(), args[0], args[1], status)
			if err != nil {
				return explain(err)
			}
			printSuccess("Approval %s %s", a.ID, a.Status)
			return nil
		},
	}
}

func init() {
	approvalsListCmd.Flags().String("status", "", "filter by status (pending, approved, rejected)")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(decideCommand("approve", "Approve a pending approval", backend.ApprovalApproved))
	approvalsCmd.AddCommand(decideCommand("reject", "Reject a pending approval", backend.ApprovalRejected))
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read and post board chat",
}

var chatShowCmd = &cobra.Command{
	Use:   "show <board-id>",
	Short: "Show recent chat messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		msgs, err := client.ListBoardMemory(cmd.Context(), args[0], backend.MemoryQuery{IsChat: true, Limit: limit})
		if err != nil {
			return explain(err)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages yet.")
			return nil
		}

		st := board.New(args[0])
		st.LoadSnapshot(backend.BoardSnapshot{}, msgs)
		out := cmd.OutOrStdout()
		for _, m := range st.View().Chat {
			from := m.Source
			if from == "" {
				from = "board"
			}
			fmt.Fprintf(out, "%s %s\n", colorize(colorFaint, shortTime(m.CreatedAt)), colorize(colorBold, from))
			fmt.Fprintln(out, renderChatMarkdown(m.Content))
		}
		return nil
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <board-id> <message...>",
	Short: "Post a message to board chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.TrimSpace(strings.Join(args[1:], " "))
		if content == "" {
			return fmt.Errorf("message is empty")
		}

		client, _, err := newBackend()
		if err != nil {
			return err
		}
		m, err := client.SendChat(cmd.Context(), args[0], content)
		if err != nil {
			return explain(err)
		}
		printSuccess("Sent (%s)", m.ID)
		return nil
	},
}

func init() {
	chatShowCmd.Flags().Int("limit", 50, "maximum number of messages")

	chatCmd.AddCommand(chatShowCmd)
	chatCmd.AddCommand(chatSendCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ") + `.

The API token is a secret and is read from MISSIONCTL_API_TOKEN or the
platform secret store.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
