package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config holds the hosted classifier client configuration
type Config struct {
	BaseURL     string // Default: https://api-inference.huggingface.co/models
	APIToken    string
	Timeout     time.Duration
	WarmupText  string
	WarmupTries uint
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api-inference.huggingface.co/models",
		Timeout:     30 * time.Second,
		WarmupText:  "hello",
		WarmupTries: 3,
	}
}

// Client talks to a hosted text-classification endpoint
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new classifier client
func NewClient(config *Config, logger *slog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// ClassifyRequest is the request body for a text-classification call
type ClassifyRequest struct {
	Inputs  string         `json:"inputs"`
	Options RequestOptions `json:"options"`
}

// RequestOptions controls server-side model loading
type RequestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

// LabelScore is one entry of a classification response
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// statusError carries a non-200 response
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Classify scores text with the named model and returns every label's score
func (c *Client) Classify(ctx context.Context, model, text string) (map[string]float64, error) {
	body, err := json.Marshal(ClassifyRequest{
		Inputs:  text,
		Options: RequestOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return parseScores(raw)
}

// parseScores accepts both the nested [[...]] and the flat [...] response shapes
func parseScores(raw []byte) (map[string]float64, error) {
	var nested [][]LabelScore
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return toScores(nested[0])
	}

	var flat []LabelScore
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return toScores(flat)
}

func toScores(items []LabelScore) (map[string]float64, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty classification response")
	}
	scores := make(map[string]float64, len(items))
	for _, item := range items {
		scores[item.Label] = item.Score
	}
	return scores, nil
}

// remoteModel binds a client to one model name
type remoteModel struct {
	client *Client
	name   string
}

// Classify implements Model
func (m *remoteModel) Classify(ctx context.Context, text string) (map[string]float64, error) {
	return m.client.Classify(ctx, m.name, text)
}

// Close implements Model. Remote models hold no local resources.
func (m *remoteModel) Close() error {
	return nil
}

// Load implements Loader. The model is warmed up with a short classification so
// a cold hosted model is brought up before it is pooled. Server errors and
// 503 "model loading" responses are retried with exponential backoff.
func (c *Client) Load(ctx context.Context, key string) (Model, error) {
	model := &remoteModel{client: c, name: key}

	op := func() (map[string]float64, error) {
		scores, err := c.Classify(ctx, key, c.config.WarmupText)
		if err == nil {
			return scores, nil
		}
		if se, ok := err.(*statusError); ok && se.Code < 500 {
			return nil, backoff.Permanent(err)
		}
		c.logger.Debug("model warmup failed, retrying", "model", key, "error", err)
		return nil, err
	}

	tries := c.config.WarmupTries
	if tries == 0 {
		tries = 1
	}
	if _, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
	); err != nil {
		return nil, fmt.Errorf("warmup failed: %w", err)
	}
	return model, nil
}
