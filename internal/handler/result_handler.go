package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-examroom/internal/middleware"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
	"github.com/stemsi/exstem-examroom/internal/validator"
)

// ResultHandler serves submitted results and records manual grades.
type ResultHandler struct {
	gradingService *service.GradingService
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(gradingService *service.GradingService) *ResultHandler {
	return &ResultHandler{gradingService: gradingService}
}

// GetResult godoc
// GET /api/v1/admin/results/:id
func (h *ResultHandler) GetResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.gradingService.GetResult(c.Request.Context(), id)
	if err != nil {
		failResult(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res})
}

// ListExamResults godoc
// GET /api/v1/admin/exams/:id/results
// Lists every persisted result of an exam, newest submission first.
func (h *ResultHandler) ListExamResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	results, err := h.gradingService.ListByExam(c.Request.Context(), examID)
	if err != nil {
		failResult(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// UpdateGrades godoc
// PATCH /api/v1/admin/results/:id/grades
// Records manual grades for essay, short answer and photo questions.
func (h *ResultHandler) UpdateGrades(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpdateGradesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.GradedBy == "" {
		if claims := middleware.GetClaims(c); claims != nil {
			req.GradedBy = "admin:" + strconv.Itoa(claims.UserID)
		}
	}

	res, err := h.gradingService.UpdateGrades(c.Request.Context(), id, req)
	if err != nil {
		failResult(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res})
}

func failResult(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrResultNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrResultNotFound)
	case errors.Is(err, service.ErrInvalidGrade):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidGrade, map[string]string{
			"manual_grades": err.Error(),
		})
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
