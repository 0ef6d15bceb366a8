package rest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.lm.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "degraded",
			"error":     err.Error(),
			"timestamp": time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/system/layout
// Body is a ward layout document (YAML). Beds that already exist keep their
// state.
func (s *Server) applyLayout(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, "SYSTEM", "Failed to read request body", err.Error())
		return
	}

	layout, err := s.loader.Parse(body)
	if err != nil {
		badRequest(c, "SYSTEM", "Invalid ward layout", err.Error())
		return
	}

	res, err := s.lm.ApplyLayout(c.Request.Context(), layout)
	if err != nil {
		s.respondError(c, "SYSTEM", "Failed to apply ward layout", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ward":     layout.Ward,
		"created":  res.Created,
		"existing": res.Existing,
	})
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context ends with this handler.
	go func() {
		if err := s.lm.Shutdown(context.Background()); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

