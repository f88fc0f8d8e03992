package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypePhotoUpload    QuestionType = "photo_upload"
)

// AutoGradable reports whether answers of this type are scored without a human.
func (t QuestionType) AutoGradable() bool {
	return t == QuestionTypeMultipleChoice
}

// Option is a single multiple-choice option.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is a single exam question.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Points        float64      `json:"points"`
	ImageURL      string       `json:"image_url,omitempty"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// CorrectOption returns the option marked correct, if any.
func (q *Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o, true
		}
	}
	return Option{}, false
}

var (
	ErrNegativePoints      = errors.New("points must not be negative")
	ErrCorrectOptionCount  = errors.New("multiple choice question must have exactly one correct option")
	ErrUnknownQuestionType = errors.New("unknown question type")
)

// Validate checks the structural invariants of a question.
func (q *Question) Validate() error {
	if q.Points < 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrNegativePoints)
	}
	switch q.Type {
	case QuestionTypeMultipleChoice:
		correct := 0
		for _, o := range q.Options {
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("question %s: %w", q.ID, ErrCorrectOptionCount)
		}
	case QuestionTypeShortAnswer, QuestionTypeEssay, QuestionTypePhotoUpload:
	default:
		return fmt.Errorf("question %s: %w: %q", q.ID, ErrUnknownQuestionType, q.Type)
	}
	return nil
}

// ForStudent returns a copy of q without answer keys.
func (q Question) ForStudent() Question {
	q.CorrectAnswer = ""
	if len(q.Options) > 0 {
		opts := make([]Option, len(q.Options))
		for i, o := range q.Options {
			opts[i] = Option{ID: o.ID, Text: o.Text}
		}
		q.Options = opts
	}
	return q
}
