// Package scoring computes the objective part of an exam score.
package scoring

import (
	"github.com/stemsi/exstem-examroom/internal/model"
)

// Result is the outcome of scoring a set of answers.
type Result struct {
	Score                 float64 `json:"score"`
	CorrectCount          int     `json:"correct_count"`
	RequiresManualGrading bool    `json:"requires_manual_grading"`
}

// GradingStatus maps the result to the status stored with the submission.
func (r Result) GradingStatus() model.GradingStatus {
	if r.RequiresManualGrading {
		return model.GradingStatusPendingReview
	}
	return model.GradingStatusAutoGraded
}

// Score auto-grades multiple-choice answers. Every other answered question
// only marks the result for manual grading, including short answers that
// carry a reference answer. Unanswered questions (absent or empty) are
// skipped. Score is pure and never mutates its inputs.
func Score(questions []model.Question, answers map[string]string) Result {
	var r Result
	for i := range questions {
		q := &questions[i]
		ans, ok := answers[q.ID.String()]
		if !ok || ans == "" {
			continue
		}

		switch q.Type {
		case model.QuestionTypeMultipleChoice:
			if correct, found := q.CorrectOption(); found && ans == correct.ID {
				r.Score += q.Points
				r.CorrectCount++
			}
		case model.QuestionTypeShortAnswer, model.QuestionTypeEssay, model.QuestionTypePhotoUpload:
			r.RequiresManualGrading = true
		}
	}
	return r
}

// FinalScore combines the automatic score with manual grades given by a
// reviewer. Manual grades only count for answered non-multiple-choice
// questions and are clamped to [0, points].
func FinalScore(questions []model.Question, answers map[string]string, manual map[string]float64) float64 {
	total := Score(questions, answers).Score
	for i := range questions {
		q := &questions[i]
		if q.Type.AutoGradable() {
			continue
		}
		id := q.ID.String()
		if ans, ok := answers[id]; !ok || ans == "" {
			continue
		}
		total += clamp(manual[id], 0, q.Points)
	}
	return total
}

// MaxScore is the sum of every question's points.
func MaxScore(questions []model.Question) float64 {
	var total float64
	for i := range questions {
		total += questions[i].Points
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
