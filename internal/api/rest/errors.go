package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondError maps a service error kind to its HTTP status.
func (s *Server) respondError(c *gin.Context, err error) {
	s.respondErrorWith(c, err, nil)
}

// respondErrorWith is respondError with extra keys merged into details.
func (s *Server) respondErrorWith(c *gin.Context, err error, extra gin.H) {
	var verr *maintenance.ValidationError
	var conflict *maintenance.ConflictError

	var (
		status  int
		code    string
		message string
		details gin.H
	)
	switch {
	case errors.As(err, &verr):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", verr.Message
		details = gin.H{"field": verr.Field}
	case errors.As(err, &conflict):
		status, code, message = http.StatusConflict, "DATE_CONFLICT", err.Error()
		details = gin.H{"date": conflict.Date.String()}
		if conflict.HeldBy != uuid.Nil {
			details["held_by"] = conflict.HeldBy
		}
	case errors.Is(err, maintenance.ErrDateConflict):
		status, code, message = http.StatusConflict, "DATE_CONFLICT", err.Error()
	case errors.Is(err, maintenance.ErrSchedulingExhausted):
		status, code, message = http.StatusUnprocessableEntity, "SCHEDULING_EXHAUSTED", err.Error()
	case errors.Is(err, maintenance.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "maintenance record not found"
	case errors.Is(err, maintenance.ErrStoreUnavailable):
		s.logger.Warn("Store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		status, code, message = http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "record store unavailable, retry later"
	default:
		s.logger.Error("Unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		status, code, message = http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}

	if len(extra) > 0 {
		if details == nil {
			details = gin.H{}
		}
		for k, v := range extra {
			details[k] = v
		}
	}

	var body any
	if details != nil {
		body = details
	}
	c.JSON(status, types.NewErrorResponse(code, message, body))
}

func badRequest(c *gin.Context, message string, err error) {
	var details any
	if err != nil {
		details = gin.H{"reason": err.Error()}
	}
	c.JSON(http.StatusBadRequest, types.NewErrorResponse("BAD_REQUEST", message, details))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id", err)
		return uuid.Nil, false
	}
	return id, true
}
