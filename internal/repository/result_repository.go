package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-examroom/internal/model"
)

const resultColumns = `id, exam_id, session_id, student_name, score, correct_count, total_questions,
		        answers, grading_status, submitted_at, auto_submitted, violation_count,
		        flagged_for_review, COALESCE(activity_log, '[]'::jsonb),
		        COALESCE(manual_grades, '{}'::jsonb), graded_at, COALESCE(graded_by, '')`

// ResultRepository handles exam result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func scanResult(row pgx.Row, r *model.ExamResult) error {
	return row.Scan(&r.ID, &r.ExamID, &r.SessionID, &r.StudentName, &r.Score, &r.CorrectCount,
		&r.TotalQuestions, &r.Answers, &r.GradingStatus, &r.SubmittedAt, &r.AutoSubmitted,
		&r.ViolationCount, &r.FlaggedForReview, &r.ActivityLog, &r.ManualGrades,
		&r.GradedAt, &r.GradedBy)
}

// GetByID retrieves a result by its UUID.
func (r *ResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	if err := scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE id = $1`, id), res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListByExam returns every result of an exam, newest first.
func (r *ResultRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE exam_id = $1
		 ORDER BY submitted_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ExamResult
	for rows.Next() {
		var res model.ExamResult
		if err := scanResult(rows, &res); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// InsertBatch stores drafts with a single UNNEST insert. Sessions that already
// have a result are skipped, so replays from the queue are harmless.
func (r *ResultRepository) InsertBatch(ctx context.Context, drafts []model.ExamResultDraft) error {
	n := len(drafts)
	ids := make([]uuid.UUID, n)
	examIDs := make([]uuid.UUID, n)
	sessionIDs := make([]uuid.UUID, n)
	names := make([]string, n)
	scores := make([]float64, n)
	correct := make([]int32, n)
	totals := make([]int32, n)
	answers := make([]string, n)
	statuses := make([]string, n)
	submittedAts := make([]time.Time, n)
	autos := make([]bool, n)
	violations := make([]int32, n)
	flagged := make([]bool, n)
	activity := make([]string, n)

	for i, d := range drafts {
		ans, err := json.Marshal(d.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		act, err := json.Marshal(d.ActivityLog)
		if err != nil {
			return fmt.Errorf("marshal activity log: %w", err)
		}
		ids[i] = d.ID
		examIDs[i] = d.ExamID
		sessionIDs[i] = d.SessionID
		names[i] = d.StudentName
		scores[i] = d.Score
		correct[i] = int32(d.CorrectCount)
		totals[i] = int32(d.TotalQuestions)
		answers[i] = string(ans)
		statuses[i] = string(d.GradingStatus)
		submittedAts[i] = d.SubmittedAt
		autos[i] = d.AutoSubmitted
		violations[i] = int32(d.ViolationCount)
		flagged[i] = d.FlaggedForReview
		activity[i] = string(act)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO exam_results (
			id, exam_id, session_id, student_name, score, correct_count, total_questions,
			answers, grading_status, submitted_at, auto_submitted, violation_count,
			flagged_for_review, activity_log
		)
		SELECT * FROM UNNEST(
			$1::uuid[], $2::uuid[], $3::uuid[], $4::text[], $5::float8[], $6::int[], $7::int[],
			$8::jsonb[], $9::text[], $10::timestamptz[], $11::bool[], $12::int[],
			$13::bool[], $14::jsonb[]
		)
		ON CONFLICT (session_id) DO NOTHING`,
		ids, examIDs, sessionIDs, names, scores, correct, totals,
		answers, statuses, submittedAts, autos, violations, flagged, activity,
	)
	return err
}

// Insert stores a single draft.
func (r *ResultRepository) Insert(ctx context.Context, d model.ExamResultDraft) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO exam_results (
			id, exam_id, session_id, student_name, score, correct_count, total_questions,
			answers, grading_status, submitted_at, auto_submitted, violation_count,
			flagged_for_review, activity_log
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO NOTHING`,
		d.ID, d.ExamID, d.SessionID, d.StudentName, d.Score, d.CorrectCount, d.TotalQuestions,
		d.Answers, d.GradingStatus, d.SubmittedAt, d.AutoSubmitted, d.ViolationCount,
		d.FlaggedForReview, d.ActivityLog,
	)
	return err
}

// UpdateGrades records manual grades and the recomputed score.
func (r *ResultRepository) UpdateGrades(ctx context.Context, id uuid.UUID, score float64, grades map[string]float64, gradedBy string, gradedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_results
		 SET score = $1, manual_grades = $2, grading_status = $3, graded_by = NULLIF($4, ''), graded_at = $5
		 WHERE id = $6`,
		score, grades, model.GradingStatusGraded, gradedBy, gradedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
