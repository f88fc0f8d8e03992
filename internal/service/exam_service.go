package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrNoQuestions  = errors.New("exam has no questions")
	ErrInvalidExam  = errors.New("exam data is invalid")
)

type examStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetByCode(ctx context.Context, code string) (*model.Exam, error)
	ListActive(ctx context.Context) ([]model.Exam, error)
}

type questionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ExamService loads exam snapshots, Redis first with PostgreSQL behind it.
type ExamService struct {
	examRepo     examStore
	questionRepo questionStore
	rdb          *redis.Client
	ttl          time.Duration
	log          zerolog.Logger
}

// NewExamService creates a new ExamService. A zero ttl caches without expiry.
func NewExamService(examRepo examStore, questionRepo questionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		ttl:          ttl,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// NormalizeCode canonicalizes a join code as typed by a student.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LoadByCode returns the exam and its questions for a join code.
func (s *ExamService) LoadByCode(ctx context.Context, code string) (*model.ExamPayload, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrExamNotFound
	}

	id, err := s.rdb.Get(ctx, config.CacheKey.ExamCodeKey(code)).Result()
	switch {
	case err == nil:
		if payload, err := s.cachedPayload(ctx, id); err == nil {
			return payload, nil
		}
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("code", code).Msg("Exam code lookup failed, falling back to database")
	}

	exam, err := s.examRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return s.WarmExamCache(ctx, exam)
}

// GetPayload returns the exam and its questions by ID.
func (s *ExamService) GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	if payload, err := s.cachedPayload(ctx, examID.String()); err == nil {
		return payload, nil
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return s.WarmExamCache(ctx, exam)
}

func (s *ExamService) cachedPayload(ctx context.Context, examID string) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Payload cache read failed")
		}
		return nil, err
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// WarmExamCache loads an exam's questions from PostgreSQL, validates them and
// caches the payload together with the code mapping.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) (*model.ExamPayload, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidExam, err)
		}
	}

	payload := &model.ExamPayload{Exam: *exam, Questions: questions}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payloadJSON, s.ttl)
	if exam.Code != "" {
		pipe.Set(ctx, config.CacheKey.ExamCodeKey(NormalizeCode(exam.Code)), exam.ID.String(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// The payload is still usable without the cache.
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to cache exam payload")
		return payload, nil
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, nil
}

// PrewarmAllCaches loads every active exam into Redis on startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming active exams...")

	warmed := 0
	for i := range exams {
		if _, err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// RefreshCache reloads an exam from PostgreSQL and rewrites its cache entries,
// as needed after its questions were edited.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return s.WarmExamCache(ctx, exam)
}

// ListActive returns the exams that are not yet closed.
func (s *ExamService) ListActive(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, nil
}
