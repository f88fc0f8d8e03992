package model

import (
	"time"

	"github.com/google/uuid"
)

// SecuritySettings holds per-exam integrity options. Zero values fall back to
// the server defaults.
type SecuritySettings struct {
	RequireFullscreen  *bool `json:"require_fullscreen,omitempty"`
	MaxViolations      int   `json:"max_violations,omitempty"`
	RandomizeQuestions bool  `json:"randomize_questions"`
	RandomizeOptions   bool  `json:"randomize_options"`
}

// Exam is the read-only snapshot a session works from.
type Exam struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Code            string           `json:"code"`
	DurationMinutes int              `json:"duration"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	IsActive        bool             `json:"is_active"`
	Security        SecuritySettings `json:"security_settings"`
	CreatedAt       time.Time        `json:"created_at"`
}

// DurationSeconds returns the session length used to seed the countdown.
func (e *Exam) DurationSeconds() int {
	if e.DurationMinutes < 0 {
		return 0
	}
	return e.DurationMinutes * 60
}

// OpenAt reports whether the exam may be joined at t.
func (e *Exam) OpenAt(t time.Time) bool {
	if !e.IsActive {
		return false
	}
	if e.StartTime != nil && t.Before(*e.StartTime) {
		return false
	}
	if e.EndTime != nil && t.After(*e.EndTime) {
		return false
	}
	return true
}

// ExamPayload is the Redis-cached snapshot of an exam and its questions.
type ExamPayload struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}
