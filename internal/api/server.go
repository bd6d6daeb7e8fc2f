package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/db"
	"github.com/relaygate-project/relaygate/internal/events"
	intnet "github.com/relaygate-project/relaygate/internal/network"
	"github.com/relaygate-project/relaygate/internal/relay"
)

// Server is the HTTP admin surface.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	relay    *relay.Server
	bans     *abuse.BanList
	roomLog  *db.RoomLog

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the admin server. roomLog may be nil when persistence
// is disabled; the history endpoint then returns 404.
func NewServer(cfg *config.Config, eventBus *events.EventBus, rl *relay.Server, bans *abuse.BanList, roomLog *db.RoomLog) *Server {
	if cfg.ApplicationData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		relay:    rl,
		bans:     bans,
		roomLog:  roomLog,
	}
}

// Start binds the API port and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetRelayData().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("admin API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.ApplicationData.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.ApplicationData.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// Public endpoints
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	// Admin endpoints
	admin := router.Group("/api")
	admin.Use(TokenAuth(s.cfg))
	{
		admin.GET("/rooms", s.handleListRooms)
		admin.GET("/rooms/:id", s.handleGetRoom)
		admin.DELETE("/rooms/:id", s.handleDestroyRoom)

		admin.GET("/bans", s.handleListBans)
		admin.POST("/bans", s.handleAddBan)
		admin.DELETE("/bans/:ip", s.handleRemoveBan)

		admin.GET("/history", s.handleHistory)
		admin.GET("/stats", s.handleStats)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
