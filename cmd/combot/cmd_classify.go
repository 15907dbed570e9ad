package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// classifyOutput is one line of `combot classify` output
type classifyOutput struct {
	Text       string             `json:"text"`
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Cached     bool               `json:"cached"`
	Overridden bool               `json:"overridden"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	stack := newClassifierStack(cfg, logger, nil)
	defer stack.Close()

	results, err := classifyBatch(cmd.Context(), stack, args, cfg.ML.MaxConcurrent)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}

// classifyBatch classifies texts concurrently, at most limit at a time, keeping input order
func classifyBatch(ctx context.Context, stack *classifierStack, texts []string, limit int) ([]classifyOutput, error) {
	out := make([]classifyOutput, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, text := range texts {
		g.Go(func() error {
			d := stack.service.Decide(ctx, text)
			r := classifyOutput{
				Text:       text,
				Label:      d.Label,
				Cached:     d.Cached,
				Overridden: d.Overridden,
			}
			if d.Result != nil {
				r.Confidence = d.Result.Confidence
				r.Scores = d.Result.Scores
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
