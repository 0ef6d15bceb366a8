package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/discharge"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/gin-gonic/gin"
)

// progressView renders durations in seconds for dashboards.
func progressView(p turnover.Progress) gin.H {
	return gin.H{
		"turnover_id":       p.TurnoverID,
		"bed_id":            p.BedID,
		"status":            p.Status,
		"started_at":        p.StartedAt,
		"expected_duration": p.ExpectedDuration.Seconds(),
		"elapsed":           p.Elapsed.Seconds(),
		"remaining":         p.Remaining.Seconds(),
		"percentage":        p.Percentage,
	}
}

func bedStatusView(st discharge.BedStatus) gin.H {
	view := gin.H{"bed": st.Bed}
	if st.Turnover != nil {
		view["turnover"] = progressView(*st.Turnover)
	}
	return view
}

// GET /api/v1/turnovers/:id
func (s *Server) getTurnover(c *gin.Context) {
	id, ok := parseID(c, "TURNOVER")
	if !ok {
		return
	}

	rec, err := s.lm.Engine().Turnovers.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "TURNOVER", "Turnover not found", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GET /api/v1/turnovers/:id/progress
func (s *Server) getTurnoverProgress(c *gin.Context) {
	id, ok := parseID(c, "TURNOVER")
	if !ok {
		return
	}

	p, err := s.lm.Engine().Turnovers.Progress(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "TURNOVER", "Failed to get turnover progress", err)
		return
	}
	c.JSON(http.StatusOK, progressView(p))
}

// POST /api/v1/turnovers/:id/complete
func (s *Server) completeTurnover(c *gin.Context) {
	id, ok := parseID(c, "TURNOVER")
	if !ok {
		return
	}

	var req struct {
		InspectionPassed *bool  `json:"inspection_passed" binding:"required"`
		InspectorID      string `json:"inspector_id"`
		Notes            string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "TURNOVER", "Invalid request body", err.Error())
		return
	}

	// The signed-in nurse is the inspector unless the request names one.
	if req.InspectorID == "" {
		if identity, ok := auth.GetIdentity(c); ok {
			req.InspectorID = identity.Subject
		}
	}

	rec, err := s.lm.Engine().Coordinator.CompleteTurnover(c.Request.Context(), id, turnover.Completion{
		InspectionPassed: *req.InspectionPassed,
		InspectorID:      req.InspectorID,
		Notes:            req.Notes,
	})
	if err != nil {
		s.respondError(c, "TURNOVER", "Failed to complete turnover", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// POST /api/v1/turnovers/:id/cancel
func (s *Server) cancelTurnover(c *gin.Context) {
	id, ok := parseID(c, "TURNOVER")
	if !ok {
		return
	}

	rec, err := s.lm.Engine().Coordinator.CancelTurnover(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "TURNOVER", "Failed to cancel turnover", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
