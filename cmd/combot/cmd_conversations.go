package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/combot/combot/internal/memory"
	"github.com/combot/combot/internal/storage"
)

func runConversations(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.OpenConversationStore(storage.SQLConfig{
		Path:            cfg.Storage.DBPath,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if idFlag != 0 {
		rec, err := store.Get(cmd.Context(), idFlag)
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	}

	recs, err := store.ListByEmail(cmd.Context(), emailFlag, limitFlag)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(os.Stderr, "no conversations for %s\n", emailFlag)
		return nil
	}
	return enc.Encode(recs)
}

func runMemoryStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	probe, err := memory.NewProcProbe()
	if err != nil {
		return fmt.Errorf("failed to open procfs: %w", err)
	}

	manager := memory.NewManager(probe, memory.Resources{}, memoryConfig(cfg), logger, nil)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(manager.Status())
}
