package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "missionctl",
	Short:         "Command-line client for mission control boards",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stderr.Fd()) {
			noColor = true
		}
		// A broken config file must not block "config set".
		level := ""
		if cfg, err := loadConfig(); err == nil {
			level = cfg.Log.Level
		}
		setupLogging(os.Stderr, level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(boardsCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(gatewaysCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(w io.Writer, level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
