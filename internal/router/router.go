package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/handler"
	"github.com/stemsi/exstem-examroom/internal/logger"
	"github.com/stemsi/exstem-examroom/internal/metrics"
	"github.com/stemsi/exstem-examroom/internal/middleware"
	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Exam    *handler.ExamHandler
	Result  *handler.ResultHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// joinLimiter may be nil to disable rate limiting.
func SetupRouter(
	authService *service.AuthService,
	joinLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(logger.RequestLogger(log))

	if cfg.MetricsEnabled {
		router.Use(metrics.Middleware())
		router.GET("/metrics", metrics.Handler())
	}

	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/admin/login", handlers.Auth.AdminLogin)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Session Group (Public, Rate Limited) ───────────────────────
	sessions := router.Group("/api/v1/sessions")
	{
		join := []gin.HandlerFunc{handlers.Session.JoinSession}
		if joinLimiter != nil {
			join = append([]gin.HandlerFunc{joinLimiter.Middleware()}, join...)
		}
		sessions.POST("", join...)
		sessions.GET("/state", middleware.RequireSessionWSAuth(authService), handlers.Session.GetSessionState)
	}

	// ─── 3. WebSocket Group (Session Token) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionWSAuth(authService))
	{
		ws.GET("/sessions/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.Brotli())
	{
		adminAPI.GET("/exams", handlers.Exam.ListExams)
		adminAPI.GET("/exams/:id", handlers.Exam.GetExam)
		adminAPI.POST("/exams/:id/refresh-cache", handlers.Exam.RefreshExamCache)
		adminAPI.GET("/exams/:id/results", handlers.Result.ListExamResults)
		adminAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)

		adminAPI.GET("/sessions/:id/activity", handlers.Monitor.GetSessionActivity)

		adminAPI.GET("/results/:id", handlers.Result.GetResult)
		adminAPI.PATCH("/results/:id/grades", handlers.Result.UpdateGrades)

		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 5. Uploaded Photo Answers (JWT) ───────────────────────────────
	uploads := router.Group("/uploads")
	uploads.Use(middleware.RequireAdminJWT(authService), middleware.CacheControl(3600))
	{
		uploads.Static("/", cfg.UploadDir)
	}

	return router
}
