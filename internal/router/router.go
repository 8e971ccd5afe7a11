package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/handler"
	"github.com/stemsi/testengine/internal/middleware"
	"github.com/stemsi/testengine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Test    *handler.TestHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
	// Log receives one access line per request.
	Log zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokens middleware.TokenValidator,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request IDs first so the access log and every envelope carry them.
	router.Use(response.RequestIDMiddleware(), response.AccessLog(handlers.Log))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Tests (any authenticated caller) ──────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireJWT(tokens), limiter.Middleware())
	{
		api.GET("/tests/:test_id/paper", handlers.Test.GetPaper)
	}

	// ─── 2. Attempts (scoped to the caller) ───────────────────────────
	attempts := api.Group("/attempts")
	{
		attempts.POST("", handlers.Attempt.CreateAttempt)
		attempts.GET("", handlers.Attempt.ListAttempts)
		attempts.GET("/:attempt_id", handlers.Attempt.GetAttempt)
		attempts.POST("/:attempt_id/start", handlers.Attempt.Start)
		attempts.POST("/:attempt_id/pause", handlers.Attempt.Pause)
		attempts.POST("/:attempt_id/resume", handlers.Attempt.Resume)
		attempts.POST("/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		attempts.POST("/:attempt_id/end", handlers.Attempt.End)
		attempts.GET("/:attempt_id/result", handlers.Attempt.GetResult)
	}

	// ─── 3. Staff ─────────────────────────────────────────────────────
	staff := api.Group("/staff")
	staff.Use(middleware.RequireStaff())
	{
		staff.POST("/attempts/:attempt_id/extend", handlers.Attempt.ExtendTime)
	}

	// ─── 4. WebSocket ─────────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireJWT(tokens), limiter.Middleware())
	{
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
