package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/integrity"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
	"github.com/stemsi/exstem-examroom/internal/shuffle"
	ws "github.com/stemsi/exstem-examroom/internal/websocket"
)

var (
	ErrExamNotAvailable = errors.New("exam is not open for joining")
	ErrSessionNotFound  = errors.New("session not found")
	ErrStudentName      = errors.New("student name is required")
)

// SessionService creates exam sessions and finds them again for the stream.
type SessionService struct {
	cfg       *config.Config
	exams     *ExamService
	auth      *AuthService
	registry  *session.Registry
	sink      session.ResultSink
	publisher *ActivityPublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewSessionService creates a new SessionService. publisher may be nil.
func NewSessionService(
	cfg *config.Config,
	exams *ExamService,
	auth *AuthService,
	registry *session.Registry,
	sink session.ResultSink,
	publisher *ActivityPublisher,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		cfg:       cfg,
		exams:     exams,
		auth:      auth,
		registry:  registry,
		sink:      sink,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// IntegrityConfig merges an exam's security settings over the server defaults.
func IntegrityConfig(cfg *config.Config, sec model.SecuritySettings) integrity.Config {
	ic := integrity.Config{
		RequireFullscreen: cfg.RequireFullscreen,
		MaxViolations:     cfg.MaxViolations,
	}
	if sec.RequireFullscreen != nil {
		ic.RequireFullscreen = *sec.RequireFullscreen
	}
	if sec.MaxViolations > 0 {
		ic.MaxViolations = sec.MaxViolations
	}
	return ic
}

// Join opens a new session for a student on the exam behind a join code. The
// session stays in loading until its stream connects.
func (s *SessionService) Join(ctx context.Context, req model.JoinSessionRequest) (*model.JoinSessionResponse, error) {
	name := strings.Join(strings.Fields(req.StudentName), " ")
	if name == "" {
		return nil, ErrStudentName
	}

	payload, err := s.exams.LoadByCode(ctx, req.ExamCode)
	if err != nil {
		return nil, err
	}
	exam := payload.Exam
	if !exam.OpenAt(s.now()) {
		return nil, ErrExamNotAvailable
	}

	shuffleKey := exam.ID.String() + ":" + strings.ToLower(name)
	questions := shuffle.Apply(payload.Questions, exam.Security, shuffleKey)

	ctrl, err := session.New(session.Options{
		StudentName:  name,
		Exam:         exam,
		Questions:    questions,
		Integrity:    IntegrityConfig(s.cfg, exam.Security),
		MaxFileBytes: s.cfg.MaxUploadBytes,
	}, session.Deps{
		Env:    ws.NewEnvironment(),
		Sink:   s.sink,
		Logger: s.log,
		Now:    s.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExam, err)
	}
	if s.publisher != nil {
		ctrl.Log().OnAppend(s.publisher.Listener(ctrl.ID(), exam.ID, name))
	}

	token, err := s.auth.GenerateSessionToken(ctrl.ID(), exam.ID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Add(ctrl); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", ctrl.ID().String()).
		Str("exam_id", exam.ID.String()).
		Str("student", name).
		Msg("Session created")

	return &model.JoinSessionResponse{
		SessionID: ctrl.ID(),
		Token:     token,
		Exam:      exam,
		Questions: len(questions),
	}, nil
}

// Lookup returns a live session and the environment its browser feeds.
func (s *SessionService) Lookup(id uuid.UUID) (*session.Controller, *ws.Environment, error) {
	ctrl, ok := s.registry.Get(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	env, ok := ctrl.Environment().(*ws.Environment)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	return ctrl, env, nil
}

// LiveSessions returns the snapshots of the sessions of an exam held by
// this process.
func (s *SessionService) LiveSessions(examID uuid.UUID) []LiveSession {
	ctrls := s.registry.ListByExam(examID)
	out := make([]LiveSession, 0, len(ctrls))
	for _, c := range ctrls {
		snap := c.Snapshot()
		out = append(out, LiveSession{
			SessionID:            snap.SessionID,
			StudentName:          c.StudentName(),
			Status:               snap.Status,
			AnsweredCount:        len(snap.Answers),
			ViolationCount:       snap.ViolationCount,
			RemainingTimeSeconds: snap.RemainingTimeSeconds,
		})
	}
	return out
}

// LiveSession is one running session as shown on the monitor.
type LiveSession struct {
	SessionID            uuid.UUID           `json:"session_id"`
	StudentName          string              `json:"student_name"`
	Status               model.SessionStatus `json:"status"`
	AnsweredCount        int                 `json:"answered_count"`
	ViolationCount       int                 `json:"violation_count"`
	RemainingTimeSeconds int                 `json:"remaining_time_seconds"`
}
