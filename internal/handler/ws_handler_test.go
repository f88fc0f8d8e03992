package handler

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/answer"
	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
	ws "github.com/stemsi/exstem-examroom/internal/websocket"
)

func dialStream(t *testing.T, app *testApp, token, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(app.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?token=" + token + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent skips frames until one with the given event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event ws.Event) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg["event"] == string(event) {
			return msg
		}
	}
}

// readNotice skips frames until a notice with the given code arrives.
func readNotice(t *testing.T, conn *websocket.Conn, code session.NoticeCode) map[string]any {
	t.Helper()
	for {
		notice := readEvent(t, conn, ws.EventNotice)["notice"].(map[string]any)
		if notice["code"] == string(code) {
			return notice
		}
	}
}

func encodedUpload(qid, contentType string, raw []byte) ws.UploadRequest {
	return ws.UploadRequest{
		Action:      ws.ActionUpload,
		QID:         qid,
		FileName:    "foto",
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(raw),
	}
}

func TestSessionStreamPhotoUpload(t *testing.T) {
	photo := model.Question{ID: uuid.New(), Type: model.QuestionTypePhotoUpload, Points: 5}
	app := newTestApp(t, photo)
	qid := photo.ID.String()
	joined := app.join(t, "Siti")
	conn := dialStream(t, app, joined.Token, "")
	readEvent(t, conn, ws.EventState)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	require.NoError(t, conn.WriteJSON(encodedUpload(qid, "image/png", png)))
	notice := readNotice(t, conn, session.NoticePhotoUploaded)
	assert.Equal(t, qid, notice["data"].(map[string]any)["question_id"])
	state := readEvent(t, conn, ws.EventState)
	stored := state["session"].(map[string]any)["answers"].(map[string]any)[qid]
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	assert.Equal(t, want, stored)

	jpeg := append([]byte("\xff\xd8\xff\xe0"), make([]byte, app.cfg.MaxUploadBytes+512<<10)...)
	require.NoError(t, conn.WriteJSON(encodedUpload(qid, "image/jpeg", jpeg)))
	errEvent := readEvent(t, conn, ws.EventError)
	assert.Contains(t, errEvent["error"], answer.ErrFileTooLarge.Error())

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	readEvent(t, conn, ws.EventPong)

	ctrl, _, err := app.sessions.Lookup(joined.SessionID)
	require.NoError(t, err)
	assert.Equal(t, want, ctrl.Snapshot().Answers[qid])
}

func TestReadLimitAdmitsOversizedUploads(t *testing.T) {
	const ceiling = 5 << 20
	over := base64.StdEncoding.EncodedLen(6 << 20)
	assert.Greater(t, readLimit(ceiling), int64(over)+1024)
}

func TestSessionStreamFullAttempt(t *testing.T) {
	app := newTestApp(t)
	joined := app.join(t, "Siti")
	conn := dialStream(t, app, joined.Token, "&unsupported=paste")

	hello := readEvent(t, conn, ws.EventExam)
	questions := hello["questions"].([]any)
	require.Len(t, questions, 2)
	for _, q := range questions {
		for _, o := range q.(map[string]any)["options"].([]any) {
			assert.NotContains(t, o.(map[string]any), "is_correct")
		}
	}

	fs := readEvent(t, conn, ws.EventFullscreen)
	assert.Equal(t, ws.FullscreenEnter, fs["command"])
	state := readEvent(t, conn, ws.EventState)
	assert.Equal(t, "in_progress", state["session"].(map[string]any)["status"])

	mcq := app.questions[0].ID.String()
	require.NoError(t, conn.WriteJSON(ws.AnswerRequest{Action: ws.ActionAnswer, QID: mcq, Answer: "a"}))
	state = readEvent(t, conn, ws.EventState)
	assert.Equal(t, "a", state["session"].(map[string]any)["answers"].(map[string]any)[mcq])

	require.NoError(t, conn.WriteJSON(ws.AnswerRequest{Action: ws.ActionAnswer, QID: "nope", Answer: "a"}))
	errEvent := readEvent(t, conn, ws.EventError)
	assert.Contains(t, errEvent["error"], "does not belong")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	readEvent(t, conn, ws.EventPong)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	errEvent = readEvent(t, conn, ws.EventError)
	assert.Equal(t, "malformed message", errEvent["error"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "dance"}))
	errEvent = readEvent(t, conn, ws.EventError)
	assert.Equal(t, "unknown action: dance", errEvent["error"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "confirm_submit"}))
	errEvent = readEvent(t, conn, ws.EventError)
	assert.Contains(t, errEvent["error"], "no submission awaiting confirmation")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "request_submit"}))
	state = readEvent(t, conn, ws.EventState)
	assert.Equal(t, true, state["session"].(map[string]any)["confirm_pending"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "confirm_submit"}))
	result := readEvent(t, conn, ws.EventResult)
	outcome := result["outcome"].(map[string]any)
	assert.Equal(t, true, outcome["saved"])
	assert.Equal(t, false, outcome["auto_submitted"])
	summary := outcome["result"].(map[string]any)
	assert.EqualValues(t, 10, summary["score"])
	assert.EqualValues(t, 30, summary["max_score"])
	assert.Equal(t, "auto_graded", summary["grading_status"], "the essay was left blank")

	queued, err := app.mr.List(config.WorkerKey.PersistResultsQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestSessionStreamSignalsBecomeViolations(t *testing.T) {
	app := newTestApp(t)
	joined := app.join(t, "Siti")
	conn := dialStream(t, app, joined.Token, "")

	readEvent(t, conn, ws.EventExam)
	readEvent(t, conn, ws.EventState)

	require.NoError(t, conn.WriteJSON(ws.SignalRequest{Action: ws.ActionSignal, Signal: "visibility", Hidden: true}))
	notice := readEvent(t, conn, ws.EventNotice)
	assert.Equal(t, "warning", notice["notice"].(map[string]any)["level"])

	require.NoError(t, conn.WriteJSON(ws.SignalRequest{Action: ws.ActionSignal, Signal: "telepathy"}))
	errEvent := readEvent(t, conn, ws.EventError)
	assert.Equal(t, ws.ErrUnknownSignal.Error(), errEvent["error"])

	ctrl, _, err := app.sessions.Lookup(joined.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.Snapshot().ViolationCount)
}

func TestSessionStreamReconnectResumes(t *testing.T) {
	app := newTestApp(t)
	joined := app.join(t, "Siti")

	first := dialStream(t, app, joined.Token, "")
	readEvent(t, first, ws.EventState)
	first.Close()

	second := dialStream(t, app, joined.Token, "")
	hello := readEvent(t, second, ws.EventExam)
	assert.Equal(t, "in_progress", hello["session"].(map[string]any)["status"])

	require.NoError(t, second.WriteJSON(map[string]any{"action": "jump", "index": 1}))
	state := readEvent(t, second, ws.EventState)
	assert.EqualValues(t, 1, state["session"].(map[string]any)["current_question_index"])
}

func TestSessionStreamRejectsUnknownSession(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	token, err := app.auth.GenerateSessionToken(app.exam.ID, app.exam.ID)
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream?token="+token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUploadFile(t *testing.T) {
	raw := []byte("\x89PNG\r\n\x1a\nrest")
	encoded := base64.StdEncoding.EncodeToString(raw)

	for _, data := range []string{encoded, "data:image/png;base64," + encoded} {
		f := uploadFile(ws.UploadRequest{FileName: "a.png", ContentType: "image/png", Data: data})
		assert.EqualValues(t, len(raw), f.Size)

		store := answer.NewStore(1024)
		uri, err := store.Encode(f)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	}
}
