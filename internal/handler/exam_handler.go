package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
)

// ExamHandler exposes the exam cache to graders.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// ListExams godoc
// GET /api/v1/admin/exams
// Lists the exams that are still open or upcoming.
func (h *ExamHandler) ListExams(c *gin.Context) {
	exams, err := h.examService.ListActive(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// GetExam godoc
// GET /api/v1/admin/exams/:id
// Returns the exam with its questions, including answer keys.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.examService.GetPayload(c.Request.Context(), examID)
	if err != nil {
		failExam(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:id/refresh-cache
// Re-caches the exam payload after its questions changed.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.examService.RefreshCache(c.Request.Context(), examID)
	if err != nil {
		failExam(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"exam_id":        payload.Exam.ID,
		"question_count": len(payload.Questions),
	})
}

// failExam maps exam loading errors onto the response envelope.
func failExam(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrNoQuestions), errors.Is(err, service.ErrInvalidExam):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidExamData)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
