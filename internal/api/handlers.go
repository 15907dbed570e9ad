package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/combot/combot/internal/conversation"
	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/inference"
	"github.com/combot/combot/internal/models"
)

const (
	brandBasic = models.BrandBasic
	brandLulu  = models.BrandLulu
)

// chatRequest is the JSON body of a conversation turn
type chatRequest struct {
	SessionID      string             `json:"sessionId"`
	Message        string             `json:"message"`
	Index          *int               `json:"index"`
	Timer          int                `json:"timer"`
	ChatLog        []models.ChatEntry `json:"chatLog"`
	ClassType      string             `json:"classType"`
	MessageTypeLog []string           `json:"messageTypeLog"`
	Email          string             `json:"email"`
	Scenario       *models.Scenario   `json:"scenario"`
}

// scenarioFor resolves the scenario for an endpoint. Brand endpoints pin the brand.
func scenarioFor(endpoint string, requested *models.Scenario) models.Scenario {
	scenario := models.DefaultScenario()
	if requested != nil {
		scenario = *requested
	}
	switch endpoint {
	case "chat":
		scenario.Brand = brandBasic
	case "lulu":
		scenario.Brand = brandLulu
	}
	return scenario
}

func (s *Server) handleStep(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body chatRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, cerrors.NewValidation("body", "invalid JSON"))
			return
		}
		if body.Index == nil {
			writeError(c, cerrors.NewValidation("index", "is required"))
			return
		}

		resp, err := s.chat.Step(c.Request.Context(), conversation.StepRequest{
			SessionID:      body.SessionID,
			Message:        body.Message,
			Index:          *body.Index,
			TimeSpent:      body.Timer,
			ChatLog:        body.ChatLog,
			ClassType:      body.ClassType,
			MessageTypeLog: body.MessageTypeLog,
			Email:          body.Email,
			Scenario:       scenarioFor(endpoint, body.Scenario),
			EndpointType:   endpoint,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleInitial(brand string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scenario := conversation.RandomScenario(brand)
		c.JSON(http.StatusOK, gin.H{
			"message":  conversation.Greeting(scenario),
			"scenario": scenario,
		})
	}
}

func (s *Server) handleClosing(brand string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": conversation.Closing(brand)})
	}
}

func (s *Server) handleRandom(c *gin.Context) {
	reset, _ := strconv.ParseBool(c.DefaultQuery("reset", "false"))
	if reset {
		if err := s.chat.ResetSession(c.Request.Context(), c.Query("sessionId")); err != nil {
			writeError(c, cerrors.NewInternal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Session reset successfully", "status": "reset"})
		return
	}

	scenario := conversation.RandomScenario("")
	c.JSON(http.StatusOK, gin.H{
		"scenario": scenario,
		"message":  conversation.Greeting(scenario),
		"status":   "generated",
	})
}

func (s *Server) handleMemoryStatus(c *gin.Context) {
	if s.memory == nil {
		writeError(c, cerrors.NewCapacity("memory manager"))
		return
	}
	c.JSON(http.StatusOK, s.memory.Status())
}

// poolStatus is the body of /api/pool-status/
type poolStatus struct {
	ActiveModels   int                   `json:"active_models"`
	MaxModels      int                   `json:"max_models"`
	ActiveRequests int                   `json:"active_requests"`
	MaxConcurrent  int                   `json:"max_concurrent"`
	MemoryUsage    float64               `json:"memory_usage"`
	Models         []inference.ModelInfo `json:"models"`
}

func (s *Server) handlePoolStatus(c *gin.Context) {
	var status poolStatus
	if s.pool != nil {
		status.ActiveModels = s.pool.Len()
		status.MaxModels = s.pool.Capacity()
		status.Models = s.pool.Models()
	}
	if s.gate != nil {
		status.ActiveRequests = s.gate.Active()
		status.MaxConcurrent = s.gate.Max()
	}
	if s.memory != nil {
		status.MemoryUsage = s.memory.Status().MemoryUsage
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "combot",
		"timestamp": time.Now().UTC(),
	})
}
