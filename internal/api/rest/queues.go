package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/queues
func (s *Server) listQueues(c *gin.Context) {
	queues := s.lm.Engine().Queues
	counts := make(map[string]int)
	for _, qt := range queues.QueueTypes() {
		counts[qt] = len(queues.List(qt))
	}
	c.JSON(http.StatusOK, gin.H{"queues": counts})
}

// GET /api/v1/queues/:type
func (s *Server) getQueue(c *gin.Context) {
	queueType := c.Param("type")
	entries := s.lm.Engine().Queues.List(queueType)

	c.JSON(http.StatusOK, gin.H{
		"queue_type": queueType,
		"entries":    entries,
		"count":      len(entries),
	})
}

// POST /api/v1/queues/:type/entries
func (s *Server) enqueuePatient(c *gin.Context) {
	var req struct {
		PatientID string `json:"patient_id" binding:"required"`
		Priority  int    `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "QUEUE", "Invalid request body", err.Error())
		return
	}

	entry, err := s.lm.Engine().Queues.Enqueue(c.Request.Context(), req.PatientID, c.Param("type"), req.Priority)
	if err != nil {
		s.respondError(c, "QUEUE", "Failed to enqueue patient", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entry_id":    entry.ID,
		"queue_type":  entry.QueueType,
		"priority":    entry.Priority,
		"enqueued_at": entry.EnqueuedAt,
	})
}

// GET /api/v1/queues/entries/:id
func (s *Server) getQueueEntry(c *gin.Context) {
	id, ok := parseID(c, "QUEUE")
	if !ok {
		return
	}

	entry, position, err := s.lm.Engine().Queues.Position(id)
	if err != nil {
		s.respondError(c, "QUEUE", "Queue entry not found", err)
		return
	}

	c.JSON(http.StatusOK, struct {
		queue.Entry
		Position int `json:"position"`
	}{entry, position})
}

// DELETE /api/v1/queues/entries/:id
func (s *Server) cancelQueueEntry(c *gin.Context) {
	id, ok := parseID(c, "QUEUE")
	if !ok {
		return
	}

	removed, err := s.lm.Engine().Queues.Cancel(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "QUEUE", "Failed to cancel queue entry", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": removed})
}
