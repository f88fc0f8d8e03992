package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/database"
	"github.com/stemsi/exstem-examroom/internal/handler"
	"github.com/stemsi/exstem-examroom/internal/logger"
	"github.com/stemsi/exstem-examroom/internal/metrics"
	"github.com/stemsi/exstem-examroom/internal/middleware"
	"github.com/stemsi/exstem-examroom/internal/repository"
	"github.com/stemsi/exstem-examroom/internal/router"
	"github.com/stemsi/exstem-examroom/internal/service"
	"github.com/stemsi/exstem-examroom/internal/session"
	"github.com/stemsi/exstem-examroom/internal/validator"
	"github.com/stemsi/exstem-examroom/internal/worker"
)

const (
	httpShutdownTimeout    = 5 * time.Second
	sessionShutdownTimeout = 15 * time.Second
	activityBuffer         = 4096
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Exam Room")

	validator.Setup()
	if cfg.MetricsEnabled {
		metrics.RegisterMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	adminRepo := repository.NewAdminRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	activityRepo := repository.NewActivityRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	registry := session.NewRegistry(cfg.SessionRetention, cfg.SessionStartTimeout, log)
	publisher := service.NewActivityPublisher(rdb, activityBuffer, log)

	authService := service.NewAuthService(cfg, adminRepo)
	examService := service.NewExamService(examRepo, questionRepo, rdb, cfg.ExamCacheTTL, log)
	resultSink := service.NewMediaResultSink(service.NewQueueResultSink(rdb), service.NewMediaService(cfg.UploadDir), log)
	sessionService := service.NewSessionService(cfg, examService, authService, registry, resultSink, publisher, log)
	gradingService := service.NewGradingService(resultRepo, examService, log)
	monitorService := service.NewMonitorService(resultRepo, activityRepo, sessionService)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Session: handler.NewSessionHandler(sessionService),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins, cfg.MaxUploadBytes),
		Exam:    handler.NewExamHandler(examService),
		Result:  handler.NewResultHandler(gradingService),
		Monitor: handler.NewMonitorHandler(rdb, examService, monitorService, log),
		System:  handler.NewSystemHandler(pool, rdb, registry, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{}, 3)
	runWorker := func(run func(context.Context)) {
		go func() {
			run(workerCtx)
			workersDone <- struct{}{}
		}()
	}
	runWorker(publisher.Run)
	runWorker(worker.NewResultWorker(resultRepo, rdb, log).Start)
	runWorker(worker.NewActivityWorker(activityRepo, rdb, log).Start)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	joinLimiter := middleware.NewRateLimiter(rdb, cfg.JoinRateLimit, time.Minute, log)
	r := router.SetupRouter(authService, joinLimiter, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Hijacked sockets are not tracked
	//    by Shutdown and close with the process.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Auto-submit sessions still in progress so their results reach the queue.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
	defer sessionCancel()
	if err := registry.Shutdown(sessionCtx); err != nil {
		log.Error().Err(err).Msg("Some sessions did not finish submitting")
	}

	// 3. Stop background workers; each flushes what it holds.
	workerCancel()
	for range 3 {
		select {
		case <-workersDone:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("Timed out waiting for workers")
			return
		}
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
