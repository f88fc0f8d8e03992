package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/answer"
	"github.com/stemsi/exstem-examroom/internal/middleware"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/response"
	"github.com/stemsi/exstem-examroom/internal/service"
	"github.com/stemsi/exstem-examroom/internal/session"
	ws "github.com/stemsi/exstem-examroom/internal/websocket"
)

// readSlack covers the JSON envelope around a base64 upload.
const readSlack = 64 * 1024

// readLimit admits uploads up to twice the ceiling so oversized photos are
// rejected by the answer store rather than by the socket.
func readLimit(maxUploadBytes int64) int64 {
	return int64(2*base64.StdEncoding.EncodedLen(int(maxUploadBytes))) + readSlack
}

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session to its browser.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	readLimit      int64
}

// NewWSHandler creates a new WSHandler. maxUploadBytes bounds a single frame.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string, maxUploadBytes int64) *WSHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = answer.DefaultMaxFileBytes
	}
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		readLimit:      readLimit(maxUploadBytes),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/stream?token=&unsupported=copy,paste
// Attaches the browser to its session. The first connection starts the exam;
// later connections resume it.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, err := claims.SessionUUID()
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}
	ctrl, env, err := h.sessionService.Lookup(sessionID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.readLimit)

	wsLog := h.log.With().
		Str("session_id", sessionID.String()).
		Str("exam_id", ctrl.Exam().ID.String()).
		Logger()

	client := ws.NewClient(conn, wsLog)
	go client.WritePump()
	defer client.Close()

	if raw := c.Query("unsupported"); raw != "" {
		env.MarkUnsupported(strings.Split(raw, ","))
	}
	env.Attach(client)
	defer env.Detach(client)
	ctrl.SetObserver(client)
	defer ctrl.DetachObserver(client)

	hello := ws.ExamResponse{
		Event:     ws.EventExam,
		Exam:      ctrl.Exam(),
		Questions: ctrl.Questions(),
		Session:   ctrl.Snapshot(),
	}
	if outcome, ok := ctrl.Outcome(); ok {
		hello.Result = &outcome
	}
	client.Send(hello)

	// The session outlives the socket that started it.
	sessionCtx := context.WithoutCancel(c.Request.Context())
	if ctrl.Status() == model.SessionStatusLoading {
		if err := ctrl.Start(sessionCtx); err != nil && !errors.Is(err, session.ErrAlreadyStarted) {
			wsLog.Error().Err(err).Msg("Session start failed")
			client.SendError(err.Error())
		}
	}

	wsLog.Info().Str("student", ctrl.StudentName()).Msg("Student connected")

	for {
		action, data, err := ws.ReadMessage(conn)
		if err != nil {
			if data != nil {
				client.SendError("malformed message")
				continue
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				wsLog.Warn().Int64("limit", h.readLimit).Msg("Frame exceeds read limit")
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(sessionCtx, ctrl, env, client, wsLog, action, data); err != nil {
			client.SendError(err.Error())
		}
	}
}

func (h *WSHandler) dispatch(
	ctx context.Context,
	ctrl *session.Controller,
	env *ws.Environment,
	client *ws.Client,
	wsLog zerolog.Logger,
	action ws.Action,
	data []byte,
) error {
	switch action {
	case ws.ActionSignal:
		var req ws.SignalRequest
		if err := ws.Decode(data, &req); err != nil {
			return errMalformed
		}
		return env.HandleSignal(req)

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := ws.Decode(data, &req); err != nil || req.QID == "" {
			return errMalformed
		}
		return ctrl.Answer(req.QID, req.Answer)

	case ws.ActionUpload:
		var req ws.UploadRequest
		if err := ws.Decode(data, &req); err != nil || req.QID == "" || req.Data == "" {
			return errMalformed
		}
		done, err := ctrl.UploadPhoto(req.QID, uploadFile(req))
		if err != nil {
			return err
		}
		go func() {
			if err := <-done; err != nil {
				wsLog.Debug().Err(err).Str("question_id", req.QID).Msg("Upload not applied")
			}
		}()
		return nil

	case ws.ActionNext:
		ctrl.Next()
	case ws.ActionPrevious:
		ctrl.Previous()
	case ws.ActionJump:
		var req ws.JumpRequest
		if err := ws.Decode(data, &req); err != nil {
			return errMalformed
		}
		ctrl.JumpTo(req.Index)

	case ws.ActionRequestSubmit:
		return ctrl.RequestSubmit()
	case ws.ActionConfirmSubmit:
		return ctrl.ConfirmSubmit(ctx)
	case ws.ActionCancelSubmit:
		ctrl.CancelSubmitConfirmation()

	case ws.ActionPing:
		client.Send(ws.PongResponse{Event: ws.EventPong})

	default:
		wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
		return errors.New("unknown action: " + string(action))
	}
	return nil
}

var errMalformed = errors.New("malformed message")

// uploadFile wraps a base64 upload, optionally sent as a data URL.
func uploadFile(req ws.UploadRequest) answer.File {
	data := req.Data
	if strings.HasPrefix(data, "data:") {
		if i := strings.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	size := base64.RawStdEncoding.DecodedLen(len(strings.TrimRight(data, "=")))
	return answer.File{
		Name:        req.FileName,
		ContentType: req.ContentType,
		Size:        int64(size),
		Content:     base64.NewDecoder(base64.StdEncoding, strings.NewReader(data)),
	}
}
