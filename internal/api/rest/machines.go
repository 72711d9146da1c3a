package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ScheduleRequest struct {
	Date *civil.Date `json:"date"`
}

type CompleteRequest struct {
	CompletionDate  *civil.Date `json:"completion_date"`
	TicketReference string      `json:"ticket_reference"`
}

// GET /api/v1/machines?search=&sector=&status=
func (s *Server) listMachines(c *gin.Context) {
	listing, err := s.service.List(c.Request.Context(), service.Filter{
		Search: c.Query("search"),
		Sector: c.Query("sector"),
		Status: maintenance.Status(c.Query("status")),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// GET /api/v1/machines/:id
func (s *Server) getMachine(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	record, err := s.service.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// POST /api/v1/machines
func (s *Server) createMachine(c *gin.Context) {
	var req service.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	record, err := s.service.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// PATCH /api/v1/machines/:id
func (s *Server) editMachine(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req maintenance.Details
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	record, err := s.service.Edit(c.Request.Context(), id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// DELETE /api/v1/machines/:id
func (s *Server) deleteMachine(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.service.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/machines/:id/schedule
func (s *Server) scheduleMachine(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	record, err := s.service.Schedule(c.Request.Context(), id, req.Date)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// POST /api/v1/machines/:id/complete
func (s *Server) completeMachine(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	completion, err := s.service.Complete(c.Request.Context(), id, req.CompletionDate, req.TicketReference)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

// GET /api/v1/machines/:id/history
func (s *Server) getHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	history, err := s.service.History(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": history})
}

// POST /api/v1/machines/import
// Body is a machine inventory document, YAML or JSON.
func (s *Server) importMachines(c *gin.Context) {
	doc, err := s.seeds.Parse(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SEED_INVALID", "invalid machine inventory", gin.H{"reason": err.Error()}))
		return
	}

	result, err := s.service.Import(c.Request.Context(), doc.Inputs())
	if err != nil {
		s.logger.Warn("Machine import stopped",
			zap.Int("created", len(result.Created)),
			zap.Error(err))
		created := make([]uuid.UUID, len(result.Created))
		for i, r := range result.Created {
			created[i] = r.ID
		}
		s.respondErrorWith(c, err, gin.H{"created": created})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/sectors
func (s *Server) listSectors(c *gin.Context) {
	sectors, err := s.service.Sectors(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sectors": sectors})
}

// GET /api/v1/equipment
func (s *Server) listEquipment(c *gin.Context) {
	equipment, err := s.service.Equipment(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equipment": equipment})
}
