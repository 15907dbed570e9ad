// Package conversation walks a chat through its scripted steps.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/combot/combot/internal/classify"
	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/generation"
	"github.com/combot/combot/internal/models"
	"github.com/combot/combot/internal/observability"
)

// Conversation indices with scripted behaviour
const (
	IndexInitial        = 0
	IndexFirstResponse  = 1
	IndexSecondResponse = 2
	IndexSavePoint      = 5
	IndexParaphrase     = 10
)

// Classifier decides the problem type of a message
type Classifier interface {
	Decide(ctx context.Context, text string) classify.Decision
}

// Replier generates replies, degrading to a fallback on failure
type Replier interface {
	Reply(ctx context.Context, req generation.Request) (string, bool)
}

// RecordStore persists finished conversations
type RecordStore interface {
	Create(ctx context.Context, rec *models.ConversationRecord) (int64, error)
}

// DraftStore holds per-session state between requests
type DraftStore interface {
	Put(ctx context.Context, draft *models.Draft) error
	Get(ctx context.Context, sessionID string) (*models.Draft, error)
	Delete(ctx context.Context, sessionID string) error
}

// Exporter ships a saved conversation to an external sink
type Exporter interface {
	Export(ctx context.Context, rec *models.ConversationRecord) error
}

// StepRequest is one user turn
type StepRequest struct {
	SessionID      string
	Message        string
	Index          int
	TimeSpent      int
	ChatLog        []models.ChatEntry
	ClassType      string
	MessageTypeLog []string
	Email          string
	Scenario       models.Scenario
	EndpointType   string
}

// StepResponse is the bot's answer to one turn
type StepResponse struct {
	Reply          string          `json:"reply"`
	Index          int             `json:"index"`
	ClassType      string          `json:"classType"`
	MessageType    string          `json:"messageType"`
	Scenario       models.Scenario `json:"scenario"`
	SessionID      string          `json:"sessionId"`
	ConversationID int64           `json:"conversationId,omitempty"`
}

// Controller runs the conversation state machine
type Controller struct {
	classifier    Classifier
	replier       Replier
	records       RecordStore
	drafts        DraftStore
	exporter      Exporter
	exportTimeout time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics

	exports sync.WaitGroup
}

// NewController creates a controller. exporter may be nil.
func NewController(classifier Classifier, replier Replier, records RecordStore, drafts DraftStore, exporter Exporter, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		classifier:    classifier,
		replier:       replier,
		records:       records,
		drafts:        drafts,
		exporter:      exporter,
		exportTimeout: 30 * time.Second,
		logger:        logger,
		metrics:       metrics,
	}
}

// Step validates req and advances the conversation by one turn.
// Only validation and persistence failures are returned as errors.
func (c *Controller) Step(ctx context.Context, req StepRequest) (*StepResponse, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp := &StepResponse{
		Index:       req.Index + 1,
		ClassType:   req.ClassType,
		MessageType: req.Scenario.ThinkLevel,
		Scenario:    req.Scenario,
		SessionID:   req.SessionID,
	}

	switch req.Index {
	case IndexInitial:
		resp.ClassType = c.classifyIntoDraft(ctx, req, false)
		c.reply(ctx, req, resp, generation.ResponseInitial)

	case IndexFirstResponse:
		resp.ClassType = c.classifyIntoDraft(ctx, req, true)
		c.reply(ctx, req, resp, generation.ResponseContinuation)

	case IndexSecondResponse:
		c.reply(ctx, req, resp, generation.ResponseLowContinuation)

	case IndexSavePoint:
		id, err := c.save(ctx, req, resp.ClassType)
		if err != nil {
			return nil, err
		}
		resp.ConversationID = id
		resp.Reply = Understanding(req.Scenario.FeelLevel)
		resp.MessageType = req.Scenario.FeelLevel

	case IndexParaphrase:
		c.reply(ctx, req, resp, generation.ResponseParaphrase)

	default:
		resp.Reply = CannedReply
	}

	return resp, nil
}

// classifyIntoDraft decides the problem type and records the scores in the session draft
func (c *Controller) classifyIntoDraft(ctx context.Context, req StepRequest, update bool) string {
	decision := c.classifier.Decide(ctx, req.Message)

	draft := &models.Draft{SessionID: req.SessionID}
	if update {
		if existing, err := c.drafts.Get(ctx, req.SessionID); err == nil {
			draft = existing
		} else if !cerrors.Is(err, cerrors.ErrNotFound) {
			c.logger.Warn("failed to load draft", "session", req.SessionID, "error", err)
		}
	}
	if decision.Result != nil {
		draft.Scores = decision.Result.Scores
	}
	draft.ProblemType = decision.Label

	if err := c.drafts.Put(ctx, draft); err != nil {
		c.logger.Warn("failed to store draft", "session", req.SessionID, "error", err)
	}

	c.logger.Info("message classified",
		"session", req.SessionID,
		"label", decision.Label,
		"cached", decision.Cached,
		"overridden", decision.Overridden)
	return decision.Label
}

func (c *Controller) reply(ctx context.Context, req StepRequest, resp *StepResponse, rt generation.ResponseType) {
	problemType := resp.ClassType
	if problemType == "" {
		problemType = req.Scenario.ProblemType
	}

	text, _ := c.replier.Reply(ctx, generation.Request{
		Scenario:     req.Scenario,
		ProblemType:  problemType,
		ResponseType: rt,
		UserInput:    req.Message,
		ChatLog:      req.ChatLog,
	})

	if strings.HasPrefix(text, generation.ParaphrasePrefix) {
		text = strings.TrimPrefix(text, generation.ParaphrasePrefix)
		resp.MessageType = models.LevelLow
	}
	resp.Reply = text
}

// save persists the finished conversation, drops its draft, and starts the export
func (c *Controller) save(ctx context.Context, req StepRequest, classType string) (int64, error) {
	var scores map[string]float64
	draftType := ""
	draft, err := c.drafts.Get(ctx, req.SessionID)
	switch {
	case err == nil:
		scores = draft.Scores
		draftType = draft.ProblemType
	case !cerrors.Is(err, cerrors.ErrNotFound):
		c.logger.Warn("failed to load draft", "session", req.SessionID, "error", err)
	}

	email := req.Email
	if email == "" {
		email = DefaultEmail
	}

	rec := &models.ConversationRecord{
		Email:            email,
		TimeSpentSeconds: req.TimeSpent,
		ChatLog:          req.ChatLog,
		MessageTypeLog:   req.MessageTypeLog,
		ScoresBreakdown:  scores,
		Brand:            req.Scenario.Brand,
		ProblemType:      firstNonEmpty(classType, draftType, req.Scenario.ProblemType),
		ThinkLevel:       req.Scenario.ThinkLevel,
		FeelLevel:        req.Scenario.FeelLevel,
		EndpointType:     req.EndpointType,
		CreatedAt:        time.Now().UTC(),
	}

	id, err := c.records.Create(ctx, rec)
	if err != nil {
		c.logger.Error("failed to save conversation", "session", req.SessionID, "error", err)
		return 0, cerrors.NewPersistence("save", err)
	}
	c.metrics.ObserveConversationSaved()
	c.logger.Info("conversation saved", "id", id, "session", req.SessionID, "email", email)

	if err := c.drafts.Delete(ctx, req.SessionID); err != nil {
		c.logger.Warn("failed to delete draft", "session", req.SessionID, "error", err)
	}

	if c.exporter != nil {
		c.exports.Add(1)
		go func() {
			defer c.exports.Done()
			c.export(rec)
		}()
	}
	return id, nil
}

// export runs detached from the request; failures are only logged
func (c *Controller) export(rec *models.ConversationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), c.exportTimeout)
	defer cancel()

	if err := c.exporter.Export(ctx, rec); err != nil {
		c.logger.Warn("conversation export failed", "id", rec.ID, "error", err)
	}
}

// Close waits for in-flight exports until ctx is done
func (c *Controller) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.exports.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetSession drops any draft for sessionID
func (c *Controller) ResetSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return c.drafts.Delete(ctx, sessionID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
