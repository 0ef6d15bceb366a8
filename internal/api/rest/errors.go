package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondError maps domain errors to status codes. prefix names the
// resource in the error code (BED_404, QUEUE_409, ...).
func (s *Server) respondError(c *gin.Context, prefix, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, turnover.ErrUnknownType):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrBedUnavailable),
		errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrDuplicateEntry):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(message,
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}

	c.JSON(status, types.NewErrorResponse(codeFor(prefix, status), message, err.Error()))
}

func badRequest(c *gin.Context, prefix, message string, details any) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(codeFor(prefix, http.StatusBadRequest), message, details))
}

func codeFor(prefix string, status int) string {
	switch status {
	case http.StatusBadRequest:
		return prefix + "_400"
	case http.StatusNotFound:
		return prefix + "_404"
	case http.StatusConflict:
		return prefix + "_409"
	default:
		return prefix + "_500"
	}
}

func parseID(c *gin.Context, prefix string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, prefix, "Invalid ID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
