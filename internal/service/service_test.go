package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		BcryptCost:        4,
		MaxUploadBytes:    1 << 20,
		MaxViolations:     3,
		RequireFullscreen: true,
	}
}

type fakeExams struct {
	mu    sync.Mutex
	exams map[uuid.UUID]model.Exam
	calls int
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (f *fakeExams) GetByCode(_ context.Context, code string) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, e := range f.exams {
		if e.Code == code {
			return &e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeExams) ListActive(context.Context) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		if e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeQuestions map[uuid.UUID][]model.Question

func (f fakeQuestions) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f[examID], nil
}

type examFixture struct {
	exam      model.Exam
	questions []model.Question
	exams     *fakeExams
	service   *ExamService
	mr        *miniredis.Miniredis
	rdb       *redis.Client
}

func newExamFixture(t *testing.T) *examFixture {
	t.Helper()
	mr, rdb := setupRedis(t)
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Fisika Dasar",
		Code:            "FIS101",
		DurationMinutes: 30,
		IsActive:        true,
	}
	questions := []model.Question{
		{
			ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeMultipleChoice, Points: 10,
			Options: []model.Option{{ID: "a", Text: "1", IsCorrect: true}, {ID: "b", Text: "2"}},
		},
		{ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeEssay, Points: 20},
	}
	exams := &fakeExams{exams: map[uuid.UUID]model.Exam{exam.ID: exam}}
	svc := NewExamService(exams, fakeQuestions{exam.ID: questions}, rdb, time.Minute, zerolog.Nop())
	return &examFixture{exam: exam, questions: questions, exams: exams, service: svc, mr: mr, rdb: rdb}
}

func TestLoadByCodeCachesPayload(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	payload, err := f.service.LoadByCode(ctx, "  fis101 ")
	require.NoError(t, err)
	assert.Equal(t, f.exam.ID, payload.Exam.ID)
	assert.Len(t, payload.Questions, 2)
	assert.Equal(t, 1, f.exams.calls)

	assert.True(t, f.mr.Exists(config.CacheKey.ExamCodeKey("FIS101")))
	assert.True(t, f.mr.Exists(config.CacheKey.ExamPayloadKey(f.exam.ID.String())))
	assert.Greater(t, f.mr.TTL(config.CacheKey.ExamPayloadKey(f.exam.ID.String())), time.Duration(0))

	payload, err = f.service.LoadByCode(ctx, "FIS101")
	require.NoError(t, err)
	assert.Equal(t, f.exam.Title, payload.Exam.Title)
	assert.Equal(t, 1, f.exams.calls, "second load is served from Redis")
}

func TestLoadByCodeErrors(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	_, err := f.service.LoadByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrExamNotFound)
	_, err = f.service.LoadByCode(ctx, "   ")
	assert.ErrorIs(t, err, ErrExamNotFound)

	empty := model.Exam{ID: uuid.New(), Code: "EMPTY", IsActive: true}
	f.exams.exams[empty.ID] = empty
	_, err = f.service.LoadByCode(ctx, "EMPTY")
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestLoadByCodeSurvivesRedisOutage(t *testing.T) {
	f := newExamFixture(t)
	f.mr.Close()

	payload, err := f.service.LoadByCode(context.Background(), "FIS101")
	require.NoError(t, err)
	assert.Equal(t, f.exam.ID, payload.Exam.ID)
}

func TestPrewarmAllCaches(t *testing.T) {
	f := newExamFixture(t)
	require.NoError(t, f.service.PrewarmAllCaches(context.Background()))
	assert.True(t, f.mr.Exists(config.CacheKey.ExamPayloadKey(f.exam.ID.String())))
}

func TestRefreshCacheRewritesPayload(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	_, err := f.service.RefreshCache(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrExamNotFound)

	payload, err := f.service.RefreshCache(ctx, f.exam.ID)
	require.NoError(t, err)
	assert.Len(t, payload.Questions, 2)
	assert.True(t, f.mr.Exists(config.CacheKey.ExamCodeKey("FIS101")))

	active, err := f.service.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAuthTokens(t *testing.T) {
	auth := NewAuthService(testConfig(), nil)

	sessionID, examID := uuid.New(), uuid.New()
	token, err := auth.GenerateSessionToken(sessionID, examID)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeSession, claims.TokenType)
	got, err := claims.SessionUUID()
	require.NoError(t, err)
	assert.Equal(t, sessionID, got)

	adminToken, err := auth.GenerateAdminToken(7)
	require.NoError(t, err)
	claims, err = auth.ValidateToken(adminToken)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	_, err = claims.SessionUUID()
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, nil)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

type fakeAdmins struct {
	byEmail map[string]*model.Admin
}

func (f *fakeAdmins) GetByEmail(_ context.Context, email string) (*model.Admin, error) {
	a, ok := f.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeAdmins) Create(_ context.Context, a *model.Admin) error {
	a.ID = len(f.byEmail) + 1
	f.byEmail[a.Email] = a
	return nil
}

func TestAdminLogin(t *testing.T) {
	auth := NewAuthService(testConfig(), &fakeAdmins{byEmail: map[string]*model.Admin{}})
	ctx := context.Background()

	admin, err := auth.CreateAdmin(ctx, " Guru@Example.com ", "Bu Guru", "rahasia123")
	require.NoError(t, err)
	assert.Equal(t, "guru@example.com", admin.Email)
	assert.NotEqual(t, "rahasia123", admin.PasswordHash)

	resp, err := auth.Login(ctx, model.AdminLoginRequest{Email: "GURU@example.com", Password: "rahasia123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, admin.ID, resp.Admin.ID)

	_, err = auth.Login(ctx, model.AdminLoginRequest{Email: "guru@example.com", Password: "salah"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, model.AdminLoginRequest{Email: "nobody@example.com", Password: "rahasia123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestQueueResultSink(t *testing.T) {
	mr, rdb := setupRedis(t)
	sink := NewQueueResultSink(rdb)

	draft := model.ExamResultDraft{ID: uuid.New(), SessionID: uuid.New(), StudentName: "Ani", Score: 12.5}
	require.NoError(t, sink.Submit(context.Background(), draft))

	held, err := mr.Get(config.CacheKey.SessionResultKey(draft.SessionID.String()))
	require.NoError(t, err)
	queued, err := mr.List(config.WorkerKey.PersistResultsQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.JSONEq(t, held, queued[0])

	var got model.ExamResultDraft
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &got))
	assert.Equal(t, draft.SessionID, got.SessionID)

	mr.Close()
	assert.Error(t, sink.Submit(context.Background(), draft))
}

func TestActivityPublisher(t *testing.T) {
	mr, rdb := setupRedis(t)
	pub := NewActivityPublisher(rdb, 8, zerolog.Nop())

	sessionID, examID := uuid.New(), uuid.New()
	sub := rdb.Subscribe(context.Background(), config.CacheKey.ExamMonitorChannel(examID.String()))
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	listen := pub.Listener(sessionID, examID, "Ani")
	listen(model.ActivityLogEntry{Action: "violation_tab_switch", Timestamp: time.Now().UTC()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	select {
	case msg := <-sub.Channel():
		var m MonitorMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
		assert.Equal(t, "activity", m.Type)
		assert.Equal(t, "violation_tab_switch", m.Data.Action)
		assert.Equal(t, "Ani", m.Data.StudentName)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor message not published")
	}

	cancel()
	<-done
	queued, err := mr.List(config.WorkerKey.PersistActivityQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestActivityListenerNeverBlocks(t *testing.T) {
	_, rdb := setupRedis(t)
	pub := NewActivityPublisher(rdb, 1, zerolog.Nop())
	listen := pub.Listener(uuid.New(), uuid.New(), "Ani")

	finished := make(chan struct{})
	go func() {
		for range 10 {
			listen(model.ActivityLogEntry{Action: "copy_attempt"})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("listener blocked on a full buffer")
	}
}

type sessionFixture struct {
	*examFixture
	svc      *SessionService
	registry *session.Registry
	sink     *QueueResultSink
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := newExamFixture(t)
	cfg := testConfig()
	registry := session.NewRegistry(time.Hour, 0, zerolog.Nop())
	sink := NewQueueResultSink(f.rdb)
	svc := NewSessionService(cfg, f.service, NewAuthService(cfg, nil), registry, sink,
		NewActivityPublisher(f.rdb, 64, zerolog.Nop()), zerolog.Nop())
	return &sessionFixture{examFixture: f, svc: svc, registry: registry, sink: sink}
}

func TestJoin(t *testing.T) {
	f := newSessionFixture(t)

	resp, err := f.svc.Join(context.Background(), model.JoinSessionRequest{ExamCode: "fis101", StudentName: "  Ani   Lestari "})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Questions)
	assert.NotEmpty(t, resp.Token)

	ctrl, env, err := f.svc.Lookup(resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "Ani Lestari", ctrl.StudentName())
	assert.Equal(t, model.SessionStatusLoading, ctrl.Status())
	for _, q := range ctrl.Questions() {
		for _, o := range q.Options {
			assert.False(t, o.IsCorrect)
		}
	}

	live := f.svc.LiveSessions(f.exam.ID)
	require.Len(t, live, 1)
	assert.Equal(t, resp.SessionID, live[0].SessionID)

	_, _, err = f.svc.Lookup(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJoinRejectsClosedExamsAndBlankNames(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, model.JoinSessionRequest{ExamCode: "FIS101", StudentName: "   "})
	assert.ErrorIs(t, err, ErrStudentName)

	later := time.Now().Add(time.Hour)
	exam := f.exam
	exam.ID = uuid.New()
	exam.Code = "LATER"
	exam.StartTime = &later
	f.exams.exams[exam.ID] = exam
	f.service.questionRepo = fakeQuestions{exam.ID: f.questions}

	_, err = f.svc.Join(ctx, model.JoinSessionRequest{ExamCode: "LATER", StudentName: "Ani"})
	assert.ErrorIs(t, err, ErrExamNotAvailable)
}

func TestIntegrityConfig(t *testing.T) {
	cfg := testConfig()
	off := false

	ic := IntegrityConfig(cfg, model.SecuritySettings{})
	assert.True(t, ic.RequireFullscreen)
	assert.Equal(t, 3, ic.MaxViolations)

	ic = IntegrityConfig(cfg, model.SecuritySettings{RequireFullscreen: &off, MaxViolations: 8})
	assert.False(t, ic.RequireFullscreen)
	assert.Equal(t, 8, ic.MaxViolations)
}
