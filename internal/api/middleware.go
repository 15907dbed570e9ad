package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	cerrors "github.com/combot/combot/internal/errors"
)

// requestMiddleware counts the request, runs a memory check before state-changing calls,
// and logs the outcome.
func (s *Server) requestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if s.memory != nil {
			end := s.memory.BeginRequest()
			defer end()
			if c.Request.Method == http.MethodPost {
				s.memory.Check(c.Request.Context())
			}
		}
		s.metrics.AddInflight(1)
		defer s.metrics.AddInflight(-1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveHTTPRequest(route, status)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request failed", attrs...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("request rejected", attrs...)
		default:
			s.logger.Debug("request served", attrs...)
		}
	}
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    cerrors.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

// writeError maps err to its status and error body
func writeError(c *gin.Context, err error) {
	cErr := cerrors.As(err)
	msg := cErr.Message
	if cErr.Code == cerrors.ErrInternal {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(cErr.Status, errorBody{Error: errorDetail{Code: cErr.Code, Message: msg}})
}
