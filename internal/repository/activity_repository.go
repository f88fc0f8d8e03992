package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-examroom/internal/model"
)

// ActivityRecord is one activity log entry of a session as persisted.
type ActivityRecord struct {
	SessionID   uuid.UUID      `json:"session_id"`
	ExamID      uuid.UUID      `json:"exam_id"`
	StudentName string         `json:"student_name"`
	Action      string         `json:"action"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// ActivityRepository handles the live activity feed table.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// CopyBatch bulk-loads records with COPY.
func (r *ActivityRepository) CopyBatch(ctx context.Context, batch []ActivityRecord) error {
	rows := make([][]any, 0, len(batch))
	for _, a := range batch {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return err
		}
		rows = append(rows, []any{a.SessionID, a.ExamID, a.StudentName, a.Action, string(meta), a.RecordedAt})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"exam_activity"},
		[]string{"session_id", "exam_id", "student_name", "action", "metadata", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert stores a single record.
func (r *ActivityRepository) Insert(ctx context.Context, a ActivityRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_activity (session_id, exam_id, student_name, action, metadata, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.SessionID, a.ExamID, a.StudentName, a.Action, a.Metadata, a.RecordedAt,
	)
	return err
}

// ListBySession returns the persisted activity of a session in order.
func (r *ActivityRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT action, COALESCE(metadata, '{}'::jsonb), recorded_at
		 FROM exam_activity WHERE session_id = $1
		 ORDER BY recorded_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ActivityLogEntry
	for rows.Next() {
		var e model.ActivityLogEntry
		if err := rows.Scan(&e.Action, &e.Metadata, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountViolations returns the number of violation entries per session of an exam.
func (r *ActivityRepository) CountViolations(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, COUNT(*)
		 FROM exam_activity
		 WHERE exam_id = $1 AND action LIKE 'violation\_%'
		 GROUP BY session_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
