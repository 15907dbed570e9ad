package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/combot/combot/internal/config"
)

var (
	configPath string
	logLevel   string
	emailFlag  string
	limitFlag  int
	idFlag     int64

	rootCmd = &cobra.Command{
		Use:           "combot",
		Short:         "Complaint-handling chatbot backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // serve.go
	}

	classifyCmd = &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify one or more complaint texts",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runClassify, // cmd_classify.go
	}

	conversationsCmd = &cobra.Command{
		Use:   "conversations",
		Short: "Look up saved conversations by email or id",
		Args:  cobra.NoArgs,
		RunE:  runConversations, // cmd_conversations.go
	}

	memoryStatusCmd = &cobra.Command{
		Use:   "memory-status",
		Short: "Print host memory usage against the cleanup thresholds",
		Args:  cobra.NoArgs,
		RunE:  runMemoryStatus, // cmd_conversations.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "combot.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	conversationsCmd.Flags().StringVar(&emailFlag, "email", "", "list conversations for this email, newest first")
	conversationsCmd.Flags().IntVar(&limitFlag, "limit", 10, "maximum conversations to list")
	conversationsCmd.Flags().Int64Var(&idFlag, "id", 0, "show a single conversation")
	conversationsCmd.MarkFlagsMutuallyExclusive("email", "id")
	conversationsCmd.MarkFlagsOneRequired("email", "id")

	rootCmd.AddCommand(serveCmd, classifyCmd, conversationsCmd, memoryStatusCmd)
}

// loadConfig reads the config and installs the default logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
