// Package generation produces chatbot replies with an OpenAI chat model.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/models"
	"github.com/combot/combot/internal/observability"
)

// Config holds generator settings
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	Temperature       float32
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        uint
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Model:             openai.GPT3Dot5Turbo,
		MaxTokens:         150,
		Temperature:       0.7,
		Timeout:           30 * time.Second,
		RequestsPerMinute: 120,
		MaxRetries:        2,
	}
}

// Request describes one reply to generate
type Request struct {
	Scenario     models.Scenario
	ProblemType  string
	ResponseType ResponseType
	UserInput    string
	ChatLog      []models.ChatEntry
}

// Generator calls the chat completion API
type Generator struct {
	client  *openai.Client
	limiter *rate.Limiter
	config  *Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGenerator creates a generator. An empty API key yields a generator that
// always falls back.
func NewGenerator(config *Config, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var client *openai.Client
	if config.APIKey != "" {
		clientCfg := openai.DefaultConfig(config.APIKey)
		if config.BaseURL != "" {
			clientCfg.BaseURL = config.BaseURL
		}
		clientCfg.HTTPClient = &http.Client{Timeout: config.Timeout}
		client = openai.NewClientWithConfig(clientCfg)
	} else {
		logger.Warn("OpenAI API key not configured, replies will use fallbacks")
	}

	limit := rate.Inf
	burst := 1
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / 60.0)
		burst = max(1, config.RequestsPerMinute/6) // ~10s worth
	}

	return &Generator{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Generate returns the model's reply. Paraphrase replies carry ParaphrasePrefix.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if !req.ResponseType.Valid() {
		return "", cerrors.NewValidation("response_type", fmt.Sprintf("unknown response type %q", req.ResponseType))
	}

	content, err := buildContent(req)
	if err != nil {
		return "", err
	}

	if g.client == nil {
		return "", cerrors.NewUpstream("openai", errors.New("api key not configured"))
	}

	reply, err := backoff.Retry(ctx, func() (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return g.complete(ctx, content)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.config.MaxRetries+1),
	)
	if err != nil {
		return "", cerrors.NewUpstream("openai", err)
	}

	if req.ResponseType == ResponseParaphrase {
		reply = ParaphrasePrefix + reply
	}
	return reply, nil
}

// Reply generates a reply, substituting the canned fallback on any failure
func (g *Generator) Reply(ctx context.Context, req Request) (string, bool) {
	reply, err := g.Generate(ctx, req)
	if err != nil {
		g.logger.Warn("reply generation failed, using fallback",
			"response_type", string(req.ResponseType), "error", err)
		g.metrics.ObserveGeneration(string(req.ResponseType), true)
		return Fallback(req.ResponseType), true
	}
	g.metrics.ObserveGeneration(string(req.ResponseType), false)
	return reply, false
}

func (g *Generator) complete(ctx context.Context, content string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		g.logger.Debug("chat completion failed", "error", err)
		return "", err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildContent(req Request) (string, error) {
	prompt := BuildPrompt(req.Scenario, req.ResponseType)

	if req.ResponseType.usesUserInput() {
		if strings.TrimSpace(req.UserInput) == "" {
			return "", cerrors.NewValidation("message", "required for "+string(req.ResponseType))
		}
		return prompt + " Customer: " + req.UserInput, nil
	}

	if len(req.ChatLog) == 0 {
		return "", cerrors.NewValidation("chatLog", "required for "+string(req.ResponseType))
	}
	transcript, err := json.Marshal(req.ChatLog)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat log: %w", err)
	}
	return prompt + " Conversation: " + string(transcript), nil
}
