package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// resolveBed accepts a bed UUID or a bed number.
func (s *Server) resolveBed(c *gin.Context) (uuid.UUID, bool) {
	id, err := s.lm.Engine().Beds.Resolve(c.Param("bed"))
	if err != nil {
		s.respondError(c, "BED", "Bed not found", err)
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/beds?state=available&category=icu
func (s *Server) listBeds(c *gin.Context) {
	state := bed.State(c.Query("state"))
	if state != "" && !state.Valid() {
		badRequest(c, "BED", "Invalid state filter", string(state))
		return
	}
	category := c.Query("category")

	beds := s.lm.Engine().Beds.List()
	response := make([]bed.Bed, 0, len(beds))
	for _, b := range beds {
		if state != "" && b.State != state {
			continue
		}
		if category != "" && b.Category != category {
			continue
		}
		response = append(response, b)
	}

	c.JSON(http.StatusOK, gin.H{
		"beds":  response,
		"count": len(response),
	})
}

// GET /api/v1/beds/:bed
func (s *Server) getBed(c *gin.Context) {
	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	status, err := s.lm.Engine().Coordinator.Status(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "BED", "Failed to get bed status", err)
		return
	}
	c.JSON(http.StatusOK, bedStatusView(status))
}

// GET /api/v1/beds/:bed/turnovers?patient_id=
func (s *Server) getBedTurnovers(c *gin.Context) {
	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	var (
		records []turnover.Record
		err     error
	)
	if patientID := c.Query("patient_id"); patientID != "" {
		records, err = s.lm.Engine().Ledger.HistoryForPatient(c.Request.Context(), id, patientID)
	} else {
		records, err = s.lm.Engine().Ledger.History(c.Request.Context(), id)
	}
	if err != nil {
		s.respondError(c, "TURNOVER", "Failed to load turnover history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bed_id":    id,
		"turnovers": records,
		"count":     len(records),
	})
}

// POST /api/v1/beds/:bed/discharge
func (s *Server) dischargeBed(c *gin.Context) {
	var req struct {
		PatientID    string `json:"patient_id" binding:"required"`
		TurnoverType string `json:"turnover_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "BED", "Invalid request body", err.Error())
		return
	}
	if req.TurnoverType == "" {
		req.TurnoverType = string(turnover.TypeStandard)
	}

	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	rec, err := s.lm.Engine().Coordinator.Discharge(c.Request.Context(), id, req.PatientID, turnover.Type(req.TurnoverType))
	if err != nil {
		s.respondError(c, "BED", "Discharge failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"turnover_id":       rec.ID,
		"bed_id":            rec.BedID,
		"status":            rec.Status,
		"started_at":        rec.StartedAt,
		"expected_duration": rec.ExpectedDuration.Seconds(),
	})
}

// POST /api/v1/beds/:bed/admit
func (s *Server) admitToBed(c *gin.Context) {
	var req struct {
		PatientID string `json:"patient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "BED", "Invalid request body", err.Error())
		return
	}

	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	b, err := s.lm.Engine().Coordinator.Admit(c.Request.Context(), id, req.PatientID)
	if err != nil {
		s.respondError(c, "BED", "Admission failed", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /api/v1/beds/:bed/maintenance
func (s *Server) pullForMaintenance(c *gin.Context) {
	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	b, err := s.lm.Engine().Coordinator.PullForMaintenance(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "BED", "Failed to pull bed for maintenance", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /api/v1/beds/:bed/return
// Without turnover_type the bed becomes available right away; with one it
// is cleaned first.
func (s *Server) returnToService(c *gin.Context) {
	var req struct {
		TurnoverType string `json:"turnover_type"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "BED", "Invalid request body", err.Error())
			return
		}
	}

	id, ok := s.resolveBed(c)
	if !ok {
		return
	}

	status, err := s.lm.Engine().Coordinator.ReturnToService(c.Request.Context(), id, turnover.Type(req.TurnoverType))
	if err != nil {
		s.respondError(c, "BED", "Failed to return bed to service", err)
		return
	}
	c.JSON(http.StatusOK, bedStatusView(status))
}
