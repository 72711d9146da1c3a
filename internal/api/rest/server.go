package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/interfaces"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/metrics"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/seed"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker reports whether the record store answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. Metrics, Hub and
// Status may be nil; their routes are then not mounted.
type Deps struct {
	Service *service.Service
	Auth    *auth.AuthService
	Hub     *websocket.Hub
	Metrics *metrics.Collector
	Seeds   *seed.Validator
	Health  HealthChecker
	Status  interfaces.StatusProvider
}

type Server struct {
	router      *gin.Engine
	service     *service.Service
	authService *auth.AuthService
	wsHub       *websocket.Hub
	metrics     *metrics.Collector
	seeds       *seed.Validator
	health      HealthChecker
	status      interfaces.StatusProvider
	logger      *zap.Logger
	server      *http.Server
	accessTTL   time.Duration
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		service:     deps.Service,
		authService: deps.Auth,
		wsHub:       deps.Hub,
		seeds:       deps.Seeds,
		health:      deps.Health,
		status:      deps.Status,
		logger:      logger,
		accessTTL:   cfg.Auth.AccessTokenTTL,
	}
	if cfg.Metrics.Enabled {
		s.metrics = deps.Metrics
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("REST server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		// ==================== AUTH ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== USER MANAGEMENT (ADMIN ONLY) ====================
		users := v1.Group("/users")
		users.Use(s.authService.AuthMiddleware())
		users.Use(auth.RequirePermission(auth.PermAdmin))
		{
			users.POST("", s.createUser)
			users.GET("", s.listUsers)
			users.PATCH("/:id", s.updateUser)
			users.DELETE("/:id", s.deleteUser)
		}

		// ==================== MACHINES ====================
		machines := v1.Group("/machines")
		machines.Use(s.authService.AuthMiddleware())
		{
			// Read: Operator+
			machines.GET("", auth.RequirePermission(auth.PermOperator), s.listMachines)
			machines.GET("/:id", auth.RequirePermission(auth.PermOperator), s.getMachine)
			machines.GET("/:id/history", auth.RequirePermission(auth.PermOperator), s.getHistory)

			// Cycle work: Technician+
			machines.PATCH("/:id", auth.RequirePermission(auth.PermTechnician), s.editMachine)
			machines.POST("/:id/schedule", auth.RequirePermission(auth.PermTechnician), s.scheduleMachine)
			machines.POST("/:id/complete", auth.RequirePermission(auth.PermTechnician), s.completeMachine)

			// Inventory: Admin only
			machines.POST("", auth.RequirePermission(auth.PermAdmin), s.createMachine)
			machines.POST("/import", auth.RequirePermission(auth.PermAdmin), s.importMachines)
			machines.DELETE("/:id", auth.RequirePermission(auth.PermAdmin), s.deleteMachine)
		}

		lookups := v1.Group("")
		lookups.Use(s.authService.AuthMiddleware())
		lookups.Use(auth.RequirePermission(auth.PermOperator))
		{
			lookups.GET("/sectors", s.listSectors)
			lookups.GET("/equipment", s.listEquipment)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		if s.status != nil {
			v1.GET("/system/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		if s.wsHub != nil {
			ws := v1.Group("/ws")
			{
				ws.GET("/live", s.wsLiveConnection)
				ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
			}
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}
