package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorHandler streams the live state of an exam to graders over SSE.
type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

// GetSessionActivity godoc
// GET /api/v1/admin/sessions/:id/activity
func (h *MonitorHandler) GetSessionActivity(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	entries, err := h.monitorService.SessionActivity(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load session activity")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"activity":   entries,
	})
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Sends a snapshot, then forwards every activity entry published for the
// exam, with a periodic progress refresh and keepalive pings.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	payload, err := h.examService.GetPayload(reqCtx, examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	totalQuestions := len(payload.Questions)

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.sendSnapshot(c, examID, totalQuestions, payload.Exam.Title, payload.Exam.DurationMinutes)

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()
	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forwarded as published.
			writeData(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			h.sendRefresh(c, examID, totalQuestions)

		case <-keepAliveTicker.C:
			writeData(c, []byte(`{"type":"ping"}`))
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, examID uuid.UUID, totalQuestions int, title string, duration int) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	data := gin.H{
		"exam": gin.H{
			"id":              examID.String(),
			"title":           title,
			"duration":        duration,
			"total_questions": totalQuestions,
		},
	}
	if progress, err := h.monitorService.GetExamProgress(ctx, examID); err == nil {
		data["progress"] = progress
	} else {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to build monitor snapshot")
	}

	c.SSEvent("message", gin.H{"type": "snapshot", "data": data})
	c.Writer.Flush()
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, examID uuid.UUID, totalQuestions int) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetExamProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch exam progress for refresh")
		return
	}

	c.SSEvent("message", gin.H{
		"type":            "refresh",
		"total_questions": totalQuestions,
		"progress":        progress,
	})
	c.Writer.Flush()
}

func writeData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
