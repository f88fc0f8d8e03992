package websocket

import (
	"github.com/stemsi/exstem-examroom/internal/integrity"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal        Action = "signal"
	ActionAnswer        Action = "answer"
	ActionUpload        Action = "upload"
	ActionNext          Action = "next"
	ActionPrevious      Action = "previous"
	ActionJump          Action = "jump"
	ActionRequestSubmit Action = "request_submit"
	ActionConfirmSubmit Action = "confirm_submit"
	ActionCancelSubmit  Action = "cancel_submit"
	ActionPing          Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SignalRequest reports a browser environment change. Only the field that
// belongs to the signal is read.
type SignalRequest struct {
	Action Action           `json:"action"`
	Signal integrity.Signal `json:"signal"`
	Hidden bool             `json:"hidden,omitempty"`
	Active bool             `json:"active,omitempty"`
	Length int              `json:"length,omitempty"`
}

// AnswerRequest overwrites the answer of a question.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// UploadRequest carries a base64 encoded file for a photo question.
type UploadRequest struct {
	Action      Action `json:"action"`
	QID         string `json:"q_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// JumpRequest moves to an arbitrary question index.
type JumpRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventExam       Event = "exam"
	EventState      Event = "state"
	EventTick       Event = "tick"
	EventNotice     Event = "notice"
	EventFullscreen Event = "fullscreen"
	EventResult     Event = "result"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// Fullscreen commands sent to the browser.
const (
	FullscreenEnter = "enter"
	FullscreenExit  = "exit"
)

// ExamResponse is sent once per connection with everything needed to render.
type ExamResponse struct {
	Event     Event                 `json:"event"`
	Exam      model.Exam            `json:"exam"`
	Questions []model.Question      `json:"questions"`
	Session   model.SessionSnapshot `json:"session"`
	Result    *session.Outcome      `json:"result,omitempty"`
}

type StateResponse struct {
	Event   Event                 `json:"event"`
	Session model.SessionSnapshot `json:"session"`
}

type TickResponse struct {
	Event Event `json:"event"`
	session.TimerState
}

type NoticeResponse struct {
	Event  Event          `json:"event"`
	Notice session.Notice `json:"notice"`
}

type FullscreenResponse struct {
	Event   Event  `json:"event"`
	Command string `json:"command"`
}

type ResultResponse struct {
	Event   Event           `json:"event"`
	Outcome session.Outcome `json:"outcome"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
