package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/model"
)

type fakeResultStore struct {
	results map[uuid.UUID]*model.ExamResult
	updated int
}

func (f *fakeResultStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamResult, error) {
	r, ok := f.results[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f *fakeResultStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	var out []model.ExamResult
	for _, r := range f.results {
		if r.ExamID == examID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeResultStore) UpdateGrades(_ context.Context, id uuid.UUID, score float64, grades map[string]float64, gradedBy string, gradedAt time.Time) error {
	r, ok := f.results[id]
	if !ok {
		return pgx.ErrNoRows
	}
	f.updated++
	r.Score = score
	r.ManualGrades = grades
	r.GradingStatus = model.GradingStatusGraded
	r.GradedBy = gradedBy
	r.GradedAt = &gradedAt
	return nil
}

func newGradingFixture(t *testing.T) (*GradingService, *fakeResultStore, *examFixture, *model.ExamResult) {
	t.Helper()
	f := newExamFixture(t)
	mcq, essay := f.questions[0], f.questions[1]
	res := &model.ExamResult{ExamResultDraft: model.ExamResultDraft{
		ID:            uuid.New(),
		ExamID:        f.exam.ID,
		SessionID:     uuid.New(),
		Score:         10,
		CorrectCount:  1,
		Answers:       map[string]string{mcq.ID.String(): "a", essay.ID.String(): "gaya = massa x percepatan"},
		GradingStatus: model.GradingStatusPendingReview,
	}}
	store := &fakeResultStore{results: map[uuid.UUID]*model.ExamResult{res.ID: res}}
	return NewGradingService(store, f.service, zerolog.Nop()), store, f, res
}

func TestUpdateGrades(t *testing.T) {
	svc, store, f, res := newGradingFixture(t)
	essay := f.questions[1].ID.String()

	got, err := svc.UpdateGrades(context.Background(), res.ID, model.UpdateGradesRequest{
		ManualGrades: map[string]float64{essay: 15},
		GradedBy:     "Bu Guru",
	})
	require.NoError(t, err)
	assert.InDelta(t, 25, got.Score, 1e-9)
	assert.Equal(t, model.GradingStatusGraded, got.GradingStatus)
	assert.Equal(t, "Bu Guru", got.GradedBy)
	require.NotNil(t, got.GradedAt)
	assert.Equal(t, 1, store.updated)
	assert.InDelta(t, 25, store.results[res.ID].Score, 1e-9)
}

func TestUpdateGradesRejectsInvalidGrades(t *testing.T) {
	svc, store, f, res := newGradingFixture(t)
	ctx := context.Background()
	mcq, essay := f.questions[0].ID.String(), f.questions[1].ID.String()

	for name, grades := range map[string]map[string]float64{
		"auto graded question": {mcq: 5},
		"unknown question":     {uuid.NewString(): 5},
		"above points":         {essay: 21},
		"negative":             {essay: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.UpdateGrades(ctx, res.ID, model.UpdateGradesRequest{ManualGrades: grades})
			assert.ErrorIs(t, err, ErrInvalidGrade)
		})
	}
	assert.Zero(t, store.updated)

	_, err := svc.UpdateGrades(ctx, uuid.New(), model.UpdateGradesRequest{ManualGrades: map[string]float64{essay: 1}})
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestUpdateGradesRejectsUnansweredQuestions(t *testing.T) {
	svc, _, f, res := newGradingFixture(t)
	delete(res.Answers, f.questions[1].ID.String())

	_, err := svc.UpdateGrades(context.Background(), res.ID, model.UpdateGradesRequest{
		ManualGrades: map[string]float64{f.questions[1].ID.String(): 10},
	})
	assert.ErrorIs(t, err, ErrInvalidGrade)
}

func TestListResults(t *testing.T) {
	svc, _, f, res := newGradingFixture(t)

	results, err := svc.ListByExam(context.Background(), f.exam.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, res.ID, results[0].ID)

	results, err = svc.ListByExam(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

type fakeCounter map[uuid.UUID]int64

func (f fakeCounter) CountViolations(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return f, nil
}

func (f fakeCounter) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.ActivityLogEntry, error) {
	if _, ok := f[sessionID]; !ok {
		return nil, nil
	}
	return []model.ActivityLogEntry{{Action: "exam_started"}, {Action: "exam_submitted"}}, nil
}

func TestExamProgress(t *testing.T) {
	_, store, f, res := newGradingFixture(t)
	sf := newSessionFixture(t)
	monitor := NewMonitorService(store, fakeCounter{res.SessionID: 2, uuid.New(): 1}, sf.svc)

	progress, err := monitor.GetExamProgress(context.Background(), f.exam.ID)
	require.NoError(t, err)
	require.Len(t, progress.Submitted, 1)
	assert.Equal(t, res.SessionID, progress.Submitted[0].SessionID)
	assert.EqualValues(t, 3, progress.TotalViolations)
	assert.Empty(t, progress.Live)
}
