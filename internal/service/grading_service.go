package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/scoring"
)

var (
	ErrResultNotFound = errors.New("result not found")
	ErrInvalidGrade   = errors.New("invalid manual grade")
)

type resultStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamResult, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error)
	UpdateGrades(ctx context.Context, id uuid.UUID, score float64, grades map[string]float64, gradedBy string, gradedAt time.Time) error
}

// GradingService serves persisted results and records manual grades.
type GradingService struct {
	results resultStore
	exams   *ExamService
	log     zerolog.Logger
	now     func() time.Time
}

// NewGradingService creates a new GradingService.
func NewGradingService(results resultStore, exams *ExamService, log zerolog.Logger) *GradingService {
	return &GradingService{
		results: results,
		exams:   exams,
		log:     log.With().Str("component", "grading_service").Logger(),
		now:     time.Now,
	}
}

// GetResult retrieves a result by ID.
func (s *GradingService) GetResult(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return res, nil
}

// ListByExam returns every result of an exam.
func (s *GradingService) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	results, err := s.results.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.ExamResult{}
	}
	return results, nil
}

// UpdateGrades merges manual grades into a result and recomputes its score.
// Grades may only target answered questions that are not auto-graded and
// must lie within the question's points.
func (s *GradingService) UpdateGrades(ctx context.Context, id uuid.UUID, req model.UpdateGradesRequest) (*model.ExamResult, error) {
	res, err := s.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := s.exams.GetPayload(ctx, res.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}

	byID := make(map[string]model.Question, len(payload.Questions))
	for _, q := range payload.Questions {
		byID[q.ID.String()] = q
	}
	for qid, grade := range req.ManualGrades {
		q, ok := byID[qid]
		if !ok || q.Type.AutoGradable() {
			return nil, fmt.Errorf("%w: question %s is not manually graded", ErrInvalidGrade, qid)
		}
		if res.Answers[qid] == "" {
			return nil, fmt.Errorf("%w: question %s was not answered", ErrInvalidGrade, qid)
		}
		if grade < 0 || grade > q.Points {
			return nil, fmt.Errorf("%w: %.2f is outside 0..%.2f", ErrInvalidGrade, grade, q.Points)
		}
	}

	grades := make(map[string]float64, len(res.ManualGrades)+len(req.ManualGrades))
	maps.Copy(grades, res.ManualGrades)
	maps.Copy(grades, req.ManualGrades)

	score := scoring.FinalScore(payload.Questions, res.Answers, grades)
	gradedAt := s.now().UTC()
	if err := s.results.UpdateGrades(ctx, id, score, grades, req.GradedBy, gradedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("update grades: %w", err)
	}

	res.Score = score
	res.ManualGrades = grades
	res.GradingStatus = model.GradingStatusGraded
	res.GradedBy = req.GradedBy
	res.GradedAt = &gradedAt

	s.log.Info().
		Str("result_id", id.String()).
		Float64("score", score).
		Int("grades", len(req.ManualGrades)).
		Msg("Manual grades recorded")
	return res, nil
}
