package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-examroom/internal/middleware"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
	"github.com/stemsi/exstem-examroom/internal/session"
	"github.com/stemsi/exstem-examroom/internal/validator"
)

// SessionHandler opens exam sessions for students.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// JoinSession godoc
// POST /api/v1/sessions
// Opens a session on the exam behind a join code and returns its stream token.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req model.JoinSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessionService.Join(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStudentName):
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
				"student_name": "student_name is a required field",
			})
		case errors.Is(err, session.ErrSessionExists):
			response.Fail(c, http.StatusConflict, response.ErrConflict)
		default:
			failExam(c, err)
		}
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// GetSessionState godoc
// GET /api/v1/sessions/state?token=
// Returns the current status of the caller's session and, once resolved,
// its outcome. Used by clients that lost their stream.
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, err := claims.SessionUUID()
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	ctrl, _, err := h.sessionService.Lookup(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	body := gin.H{"session": ctrl.Snapshot()}
	if outcome, ok := ctrl.Outcome(); ok {
		body["result"] = outcome
	}
	response.Success(c, http.StatusOK, body)
}
