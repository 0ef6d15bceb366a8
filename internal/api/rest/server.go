package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/interfaces"
	"github.com/KevinKickass/OpenWardCore/internal/provision"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	loader      *provision.Loader
}

func NewServer(
	cfg *config.Config,
	lm interfaces.LifecycleManager,
	logger *zap.Logger,
	wsHub *websocket.Hub,
	authService *auth.AuthService,
	loader *provision.Loader,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		loader:      loader,
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

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== BEDS ====================
		beds := v1.Group("/beds")
		beds.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Viewer+
			beds.GET("", auth.RequirePermission(auth.PermViewer), s.listBeds)
			beds.GET("/:bed", auth.RequirePermission(auth.PermViewer), s.getBed)
			beds.GET("/:bed/turnovers", auth.RequirePermission(auth.PermViewer), s.getBedTurnovers)

			// Bed moves: Nurse+
			beds.POST("/:bed/discharge", auth.RequirePermission(auth.PermNurse), s.dischargeBed)
			beds.POST("/:bed/admit", auth.RequirePermission(auth.PermNurse), s.admitToBed)
			beds.POST("/:bed/maintenance", auth.RequirePermission(auth.PermNurse), s.pullForMaintenance)
			beds.POST("/:bed/return", auth.RequirePermission(auth.PermNurse), s.returnToService)
		}

		// ==================== TURNOVERS ====================
		turnovers := v1.Group("/turnovers")
		turnovers.Use(s.authService.AuthMiddleware())
		{
			turnovers.GET("/:id", auth.RequirePermission(auth.PermViewer), s.getTurnover)
			turnovers.GET("/:id/progress", auth.RequirePermission(auth.PermViewer), s.getTurnoverProgress)
			turnovers.POST("/:id/complete", auth.RequirePermission(auth.PermNurse), s.completeTurnover)
			turnovers.POST("/:id/cancel", auth.RequirePermission(auth.PermAdmin), s.cancelTurnover)
		}

		// ==================== QUEUES ====================
		queues := v1.Group("/queues")
		queues.Use(s.authService.AuthMiddleware())
		{
			queues.GET("", auth.RequirePermission(auth.PermViewer), s.listQueues)
			queues.GET("/:type", auth.RequirePermission(auth.PermViewer), s.getQueue)
			queues.POST("/:type/entries", auth.RequirePermission(auth.PermNurse), s.enqueuePatient)
			queues.GET("/entries/:id", auth.RequirePermission(auth.PermViewer), s.getQueueEntry)
			queues.DELETE("/entries/:id", auth.RequirePermission(auth.PermNurse), s.cancelQueueEntry)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermViewer), s.getSystemStatus)
			system.POST("/layout", auth.RequirePermission(auth.PermAdmin), s.applyLayout)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermViewer), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}
