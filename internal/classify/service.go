// Package classify turns complaint text into a problem type.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/combot/combot/internal/inference"
	"github.com/combot/combot/internal/models"
	"github.com/combot/combot/internal/observability"
)

// Cache is the result cache used by the service
type Cache interface {
	Get(ctx context.Context, text string) (*models.ClassificationResult, bool)
	Set(ctx context.Context, text string, result *models.ClassificationResult, ttl time.Duration)
}

// ModelSource hands out pooled models
type ModelSource interface {
	Get(ctx context.Context, key string) (inference.Model, bool)
}

// Slots bounds concurrent model invocations
type Slots interface {
	TryAcquire(ctx context.Context, timeout time.Duration) bool
	Release()
}

// Config holds classification settings
type Config struct {
	ModelName        string
	AcquireTimeout   time.Duration
	InferenceTimeout time.Duration
	ResultTTL        time.Duration
	ReturnKeywords   []string
	ReturnThreshold  float64
	DefaultThreshold float64
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ModelName:        "jpsteinhafel/complaints_classifier",
		AcquireTimeout:   30 * time.Second,
		InferenceTimeout: 15 * time.Second,
		ResultTTL:        2 * time.Hour,
		ReturnKeywords:   []string{"return", "refund", "send back", "bring back", "take back"},
		ReturnThreshold:  0.3,
		DefaultThreshold: 0.1,
	}
}

// Decision is the problem type chosen for a message
type Decision struct {
	Label      string                       `json:"label"`
	Result     *models.ClassificationResult `json:"result,omitempty"`
	Cached     bool                         `json:"cached"`
	Overridden bool                         `json:"overridden"`
}

// Service classifies text through cache, gate, and model pool
type Service struct {
	cache   Cache
	models  ModelSource
	slots   Slots
	config  *Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService creates a classification service
func NewService(cache Cache, models ModelSource, slots Slots, config *Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:   cache,
		models:  models,
		slots:   slots,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

type inferenceOutcome struct {
	scores map[string]float64
	err    error
}

// Classify returns the classification for text and whether it came from the cache.
// Every failure (empty input, no slot, no model, model error or timeout) yields (nil, false).
func (s *Service) Classify(ctx context.Context, text string) (*models.ClassificationResult, bool) {
	if strings.TrimSpace(text) == "" {
		s.metrics.ObserveClassification(observability.OutcomeEmpty)
		return nil, false
	}

	if cached, ok := s.cache.Get(ctx, text); ok {
		s.metrics.ObserveClassification(observability.OutcomeCached)
		return cached, true
	}

	if !s.slots.TryAcquire(ctx, s.config.AcquireTimeout) {
		s.logger.Warn("could not acquire classification slot")
		s.metrics.ObserveClassification(observability.OutcomeShed)
		return nil, false
	}
	defer s.slots.Release()

	model, ok := s.models.Get(ctx, s.config.ModelName)
	if !ok {
		s.logger.Warn("classification model unavailable", "model", s.config.ModelName)
		s.metrics.ObserveClassification(observability.OutcomeUnavailable)
		return nil, false
	}

	start := time.Now()
	scores, err := s.invoke(ctx, model, text)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Warn("classification failed", "error", err, "duration", elapsed)
		s.metrics.ObserveClassification(observability.OutcomeFailed)
		return nil, false
	}

	result := models.NewClassificationResult(scores, elapsed)
	if result == nil {
		s.logger.Warn("classification returned no scores")
		s.metrics.ObserveClassification(observability.OutcomeFailed)
		return nil, false
	}

	s.cache.Set(ctx, text, result, s.config.ResultTTL)
	s.metrics.ObserveClassification(observability.OutcomeComputed)
	s.logger.Debug("classification completed", "label", result.PrimaryLabel, "confidence", result.Confidence, "duration", elapsed)
	return result, false
}

// invoke runs the model under a hard timeout. A model that ignores ctx is
// abandoned; its goroutine finishes into a buffered channel.
func (s *Service) invoke(ctx context.Context, model inference.Model, text string) (map[string]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.InferenceTimeout)
	defer cancel()

	done := make(chan inferenceOutcome, 1)
	go func() {
		scores, err := model.Classify(callCtx, text)
		done <- inferenceOutcome{scores: scores, err: err}
	}()

	select {
	case out := <-done:
		return out.scores, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// Decide classifies text and applies the return-request policy.
// Messages mentioning a return need a non-Other label above the return threshold;
// all other messages need the default threshold. Anything else becomes Other.
func (s *Service) Decide(ctx context.Context, text string) Decision {
	result, cached := s.Classify(ctx, text)
	decision := Decision{Label: models.ProblemTypeOther, Result: result, Cached: cached}
	if result == nil {
		return decision
	}

	if s.HasReturnKeyword(text) {
		if result.PrimaryLabel != models.ProblemTypeOther && result.Confidence > s.config.ReturnThreshold {
			decision.Label = result.PrimaryLabel
		} else {
			decision.Overridden = result.PrimaryLabel != models.ProblemTypeOther
		}
		return decision
	}

	if result.Confidence > s.config.DefaultThreshold {
		decision.Label = result.PrimaryLabel
	} else {
		decision.Overridden = result.PrimaryLabel != models.ProblemTypeOther
	}
	return decision
}

// HasReturnKeyword reports whether text mentions a return or refund
func (s *Service) HasReturnKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range s.config.ReturnKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
