package models

import (
	"sort"
	"time"
)

// Problem types produced by the complaints classifier
const (
	ProblemTypeA     = "A"
	ProblemTypeB     = "B"
	ProblemTypeC     = "C"
	ProblemTypeOther = "Other"
)

// Brand types
const (
	BrandBasic = "Basic"
	BrandLulu  = "Lulu"
)

// Think / feel levels
const (
	LevelHigh = "High"
	LevelLow  = "Low"
)

// ClassificationResult is the outcome of a single model invocation
type ClassificationResult struct {
	Scores         map[string]float64 `json:"scores"`
	PrimaryLabel   string             `json:"primary_type"`
	Confidence     float64            `json:"confidence"`
	ComputedAt     time.Time          `json:"computed_at"`
	ProcessingTime time.Duration      `json:"processing_time"`
}

// NewClassificationResult builds a result whose primary label is the argmax of scores.
// Ties go to the lexically smallest label so the choice is deterministic.
// Returns nil for an empty score map.
func NewClassificationResult(scores map[string]float64, elapsed time.Duration) *ClassificationResult {
	if len(scores) == 0 {
		return nil
	}

	labels := make([]string, 0, len(scores))
	copied := make(map[string]float64, len(scores))
	for label, score := range scores {
		labels = append(labels, label)
		copied[label] = score
	}
	sort.Strings(labels)

	primary := labels[0]
	for _, label := range labels[1:] {
		if copied[label] > copied[primary] {
			primary = label
		}
	}

	return &ClassificationResult{
		Scores:         copied,
		PrimaryLabel:   primary,
		Confidence:     copied[primary],
		ComputedAt:     time.Now(),
		ProcessingTime: elapsed,
	}
}

// ChatEntry is a single line of a conversation transcript
type ChatEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Scenario describes the experimental condition a conversation runs under
type Scenario struct {
	Brand       string `json:"brand" yaml:"brand"`
	ProblemType string `json:"problem_type" yaml:"problem_type"`
	ThinkLevel  string `json:"think_level" yaml:"think_level"`
	FeelLevel   string `json:"feel_level" yaml:"feel_level"`
}

// DefaultScenario returns the scenario used when a client supplies none
func DefaultScenario() Scenario {
	return Scenario{
		Brand:       BrandBasic,
		ProblemType: ProblemTypeA,
		ThinkLevel:  LevelHigh,
		FeelLevel:   LevelHigh,
	}
}

// ConversationRecord is a completed, persisted conversation
type ConversationRecord struct {
	ID               int64              `json:"id"`
	Email            string             `json:"email"`
	TimeSpentSeconds int                `json:"time_spent"`
	ChatLog          []ChatEntry        `json:"chat_log"`
	MessageTypeLog   []string           `json:"message_type_log"`
	ScoresBreakdown  map[string]float64 `json:"product_type_breakdown,omitempty"`
	Brand            string             `json:"test_type"`
	ProblemType      string             `json:"problem_type"`
	ThinkLevel       string             `json:"think_level"`
	FeelLevel        string             `json:"feel_level"`
	EndpointType     string             `json:"endpoint_type"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Draft carries classification scores between requests of one in-flight conversation
type Draft struct {
	SessionID   string             `json:"session_id"`
	Scores      map[string]float64 `json:"scores"`
	ProblemType string             `json:"problem_type"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
