package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/models"
)

type chatServer struct {
	calls    atomic.Int32
	failures int32 // leading calls answered with 500
	status   int   // non-zero forces this status on every call
	lastBody atomic.Value
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	s.lastBody.Store(string(body))

	if s.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"rejected","type":"invalid_request_error"}}`))
		return
	}
	if n <= s.failures {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo",
		"choices":[{"index":0,"message":{"role":"assistant","content":"  Could you share your order number?  "},"finish_reason":"stop"}]}`))
}

func newTestGenerator(t *testing.T, srv *chatServer) *Generator {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = ts.URL + "/v1"
	cfg.Timeout = 5 * time.Second
	cfg.RequestsPerMinute = 0
	return NewGenerator(cfg, nil, nil)
}

func TestGenerate_Initial(t *testing.T) {
	srv := &chatServer{}
	g := newTestGenerator(t, srv)

	reply, err := g.Generate(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "My jacket zipper broke",
	})

	require.NoError(t, err)
	assert.Equal(t, "Could you share your order number?", reply)

	var sent struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(srv.lastBody.Load().(string)), &sent))
	assert.Equal(t, "gpt-3.5-turbo", sent.Model)
	assert.Equal(t, 150, sent.MaxTokens)
	require.Len(t, sent.Messages, 1)
	assert.True(t, strings.HasSuffix(sent.Messages[0].Content, "Customer: My jacket zipper broke"))
}

func TestGenerate_ContinuationUsesTranscript(t *testing.T) {
	srv := &chatServer{}
	g := newTestGenerator(t, srv)

	_, err := g.Generate(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseContinuation,
		ChatLog:      []models.ChatEntry{{Role: "user", Content: "late delivery"}},
	})

	require.NoError(t, err)
	assert.Contains(t, srv.lastBody.Load().(string), "Conversation: ")
	assert.Contains(t, srv.lastBody.Load().(string), "late delivery")
}

func TestGenerate_ParaphrasePrefix(t *testing.T) {
	g := newTestGenerator(t, &chatServer{})

	reply, err := g.Generate(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseParaphrase,
		UserInput:    "they were rude",
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, ParaphrasePrefix))
}

func TestGenerate_RetriesServerError(t *testing.T) {
	srv := &chatServer{failures: 1}
	g := newTestGenerator(t, srv)

	_, err := g.Generate(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "hello",
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestGenerate_RetriesWaitForLimiter(t *testing.T) {
	srv := &chatServer{failures: 1}
	g := newTestGenerator(t, srv)
	g.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := g.Generate(ctx, Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "hello",
	})

	// the retry needs a second token, which the limiter cannot grant before the deadline
	assert.True(t, cerrors.Is(err, cerrors.ErrUpstream))
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	srv := &chatServer{status: http.StatusBadRequest}
	g := newTestGenerator(t, srv)

	_, err := g.Generate(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "hello",
	})

	assert.True(t, cerrors.Is(err, cerrors.ErrUpstream))
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestGenerate_Validation(t *testing.T) {
	g := newTestGenerator(t, &chatServer{})
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{ResponseType: "bogus", UserInput: "x"})
	assert.True(t, cerrors.Is(err, cerrors.ErrValidation))

	_, err = g.Generate(ctx, Request{ResponseType: ResponseInitial})
	assert.True(t, cerrors.Is(err, cerrors.ErrValidation))

	_, err = g.Generate(ctx, Request{ResponseType: ResponseLowContinuation})
	assert.True(t, cerrors.Is(err, cerrors.ErrValidation))
}

func TestReply_FallbackWithoutKey(t *testing.T) {
	g := NewGenerator(DefaultConfig(), nil, nil)

	reply, fallback := g.Reply(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "hello",
	})

	assert.True(t, fallback)
	assert.Equal(t, Fallback(ResponseInitial), reply)
}

func TestReply_Success(t *testing.T) {
	g := newTestGenerator(t, &chatServer{})

	reply, fallback := g.Reply(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseIndex10,
		UserInput:    "hello",
	})

	assert.False(t, fallback)
	assert.NotEmpty(t, reply)
}

func TestBuildPrompt(t *testing.T) {
	basic := BuildPrompt(models.Scenario{Brand: models.BrandBasic, ThinkLevel: "High", FeelLevel: "High"}, ResponseInitial)
	assert.True(t, strings.HasPrefix(basic, "Empathetic customer service."))
	assert.Contains(t, basic, "Paraphrase complaint and ask for details.")
	assert.True(t, strings.HasSuffix(basic, "3-4 sentences."))

	lulu := BuildPrompt(models.Scenario{Brand: models.BrandLulu, ThinkLevel: "Low", FeelLevel: "Low"}, ResponseContinuation)
	assert.True(t, strings.HasPrefix(lulu, "Lululemon customer service - robotic, unempathetic, and clueless."))
	assert.Contains(t, lulu, "stoked")
	assert.Contains(t, lulu, "Be confused and unemotional.")

	// unknown levels behave like High
	assert.Equal(t, basic, BuildPrompt(models.Scenario{Brand: models.BrandBasic}, ResponseInitial))
}

func TestFallback(t *testing.T) {
	for _, rt := range []ResponseType{ResponseInitial, ResponseContinuation, ResponseLowContinuation, ResponseParaphrase, ResponseIndex10} {
		assert.NotEmpty(t, Fallback(rt), rt)
	}
	assert.Equal(t, ErrorReply, Fallback(ResponseParaphrase))
}

func TestNewGenerator_WarnsOnceWithoutKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg := DefaultConfig()
	cfg.APIKey = ""
	g := NewGenerator(cfg, logger, nil)

	assert.Equal(t, 1, strings.Count(buf.String(), "API key not configured"))

	reply, fallback := g.Reply(context.Background(), Request{
		Scenario:     models.DefaultScenario(),
		ResponseType: ResponseInitial,
		UserInput:    "hello",
	})
	assert.True(t, fallback)
	assert.Equal(t, Fallback(ResponseInitial), reply)
}
