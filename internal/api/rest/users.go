package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreateUserRequest struct {
	Username string    `json:"username" binding:"required"`
	Password string    `json:"password" binding:"required,min=8"`
	Role     auth.Role `json:"role" binding:"required,oneof=operator technician admin"`
}

type UpdateUserRequest struct {
	Password *string    `json:"password,omitempty" binding:"omitempty,min=8"`
	Role     *auth.Role `json:"role,omitempty" binding:"omitempty,oneof=operator technician admin"`
}

func (s *Server) respondUserError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("USER_404", "User not found", nil))
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, types.NewErrorResponse("USER_409", err.Error(), nil))
	case errors.Is(err, auth.ErrInvalidRole), errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("USER_400", err.Error(), nil))
	default:
		s.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("USER_500", message, nil))
	}
}

// POST /api/v1/users
func (s *Server) createUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("USER_400", "Invalid request body", err.Error()))
		return
	}

	user, err := s.authService.CreateUser(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		s.respondUserError(c, "Failed to create user", err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// GET /api/v1/users
func (s *Server) listUsers(c *gin.Context) {
	users, err := s.authService.ListUsers(c.Request.Context())
	if err != nil {
		s.respondUserError(c, "Failed to list users", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// PATCH /api/v1/users/:id
func (s *Server) updateUser(c *gin.Context) {
	userID, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("USER_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.authService.UpdateUser(c.Request.Context(), userID, req.Password, req.Role); err != nil {
		s.respondUserError(c, "Failed to update user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

// DELETE /api/v1/users/:id
func (s *Server) deleteUser(c *gin.Context) {
	userID, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.authService.DeleteUser(c.Request.Context(), userID); err != nil {
		s.respondUserError(c, "Failed to delete user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
