package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/combot/combot/internal/api"
	"github.com/combot/combot/internal/conversation"
	"github.com/combot/combot/internal/generation"
	"github.com/combot/combot/internal/memory"
	"github.com/combot/combot/internal/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := newMetrics()

	stack := newClassifierStack(cfg, logger, metrics)
	defer stack.Close()

	records, err := storage.OpenConversationStore(storage.SQLConfig{
		Path:            cfg.Storage.DBPath,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer records.Close()

	drafts, err := storage.OpenDraftStore(cfg.Storage.BadgerPath, cfg.Storage.DraftTTL)
	if err != nil {
		return fmt.Errorf("failed to open draft store: %w", err)
	}
	defer drafts.Close()

	generator := generation.NewGenerator(&generation.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Temperature:       cfg.OpenAI.Temperature,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
		MaxRetries:        cfg.OpenAI.MaxRetries,
	}, logger, metrics)

	var exporter conversation.Exporter
	if cfg.Export.WebhookURL != "" {
		exporter = conversation.NewWebhookExporter(cfg.Export.WebhookURL, cfg.Export.Timeout)
	}

	controller := conversation.NewController(stack.service, generator, records, drafts, exporter, logger, metrics)

	var probe memory.Probe
	procProbe, err := memory.NewProcProbe()
	if err != nil {
		logger.Warn("procfs unavailable, memory pressure checks disabled", "error", err)
	} else {
		probe = procProbe
	}

	manager := memory.NewManager(probe, memory.Resources{
		Cache:         stack.cache,
		Models:        stack.pool,
		Gate:          stack.gate,
		Conversations: records,
		Drafts:        drafts,
	}, memoryConfig(cfg), logger, metrics)
	manager.Start()
	defer manager.Stop()

	server := api.NewServer(&api.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, controller, manager, stack.pool, stack.gate, logger, metrics)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("combot started",
		"version", version,
		"addr", cfg.Server.Addr,
		"model", cfg.ML.ModelName,
		"max_concurrent", cfg.ML.MaxConcurrent,
		"redis", stack.redis != nil)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := controller.Close(shutdownCtx); err != nil {
		return fmt.Errorf("pending exports not finished: %w", err)
	}
	return nil
}
