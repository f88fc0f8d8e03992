package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-examroom/internal/model"
)

type activityReader interface {
	CountViolations(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLogEntry, error)
}

// MonitorService gathers what the live monitor shows for an exam.
type MonitorService struct {
	results  resultStore
	activity activityReader
	sessions *SessionService
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(results resultStore, activity activityReader, sessions *SessionService) *MonitorService {
	return &MonitorService{results: results, activity: activity, sessions: sessions}
}

// SubmittedSession is a persisted result as shown on the monitor.
type SubmittedSession struct {
	SessionID      uuid.UUID           `json:"session_id"`
	StudentName    string              `json:"student_name"`
	Score          float64             `json:"score"`
	GradingStatus  model.GradingStatus `json:"grading_status"`
	AutoSubmitted  bool                `json:"auto_submitted"`
	ViolationCount int                 `json:"violation_count"`
	Flagged        bool                `json:"flagged_for_review"`
}

// ExamProgress is the monitor snapshot of an exam.
type ExamProgress struct {
	Live            []LiveSession       `json:"live"`
	Submitted       []SubmittedSession  `json:"submitted"`
	ViolationCounts map[uuid.UUID]int64 `json:"violation_counts"`
	TotalViolations int64               `json:"total_violations"`
}

// GetExamProgress fetches submitted results and violation counts in parallel
// and adds the sessions running in this process.
func (s *MonitorService) GetExamProgress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	var (
		results    []model.ExamResult
		counts     map[uuid.UUID]int64
		resultsErr error
		countsErr  error
		wg         sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results, resultsErr = s.results.ListByExam(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		counts, countsErr = s.activity.CountViolations(ctx, examID)
	}()
	wg.Wait()

	// Results are required; violation counts are best-effort.
	if resultsErr != nil {
		return nil, resultsErr
	}

	progress := &ExamProgress{
		Live:            s.sessions.LiveSessions(examID),
		Submitted:       make([]SubmittedSession, 0, len(results)),
		ViolationCounts: map[uuid.UUID]int64{},
	}
	for _, r := range results {
		progress.Submitted = append(progress.Submitted, SubmittedSession{
			SessionID:      r.SessionID,
			StudentName:    r.StudentName,
			Score:          r.Score,
			GradingStatus:  r.GradingStatus,
			AutoSubmitted:  r.AutoSubmitted,
			ViolationCount: r.ViolationCount,
			Flagged:        r.FlaggedForReview,
		})
	}
	if countsErr == nil && counts != nil {
		progress.ViolationCounts = counts
		for _, n := range counts {
			progress.TotalViolations += n
		}
	}
	return progress, nil
}

// SessionActivity returns the activity log of a session. Sessions held by
// this process are read from memory, others from the persisted log.
func (s *MonitorService) SessionActivity(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLogEntry, error) {
	if ctrl, _, err := s.sessions.Lookup(sessionID); err == nil {
		return ctrl.Log().Entries(), nil
	}
	entries, err := s.activity.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.ActivityLogEntry{}
	}
	return entries, nil
}
