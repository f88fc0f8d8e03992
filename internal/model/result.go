package model

import (
	"time"

	"github.com/google/uuid"
)

// GradingStatus enumerates the grading lifecycle of a result.
type GradingStatus string

const (
	GradingStatusAutoGraded    GradingStatus = "auto_graded"
	GradingStatusPendingReview GradingStatus = "pending_review"
	GradingStatusGraded        GradingStatus = "graded"
)

// ExamResultDraft is the payload handed to the result sink at submission.
type ExamResultDraft struct {
	ID               uuid.UUID          `json:"id"`
	ExamID           uuid.UUID          `json:"exam_id"`
	SessionID        uuid.UUID          `json:"session_id"`
	StudentName      string             `json:"student_name"`
	Score            float64            `json:"score"`
	CorrectCount     int                `json:"correct_count"`
	TotalQuestions   int                `json:"total_questions"`
	Answers          map[string]string  `json:"answers"`
	GradingStatus    GradingStatus      `json:"grading_status"`
	SubmittedAt      time.Time          `json:"submitted_at"`
	AutoSubmitted    bool               `json:"auto_submitted"`
	ViolationCount   int                `json:"violation_count"`
	FlaggedForReview bool               `json:"flagged_for_review"`
	ActivityLog      []ActivityLogEntry `json:"activity_log"`
}

// ExamResult is the persisted outcome of a session.
type ExamResult struct {
	ExamResultDraft
	ManualGrades map[string]float64 `json:"manual_grades,omitempty"`
	GradedAt     *time.Time         `json:"graded_at,omitempty"`
	GradedBy     string             `json:"graded_by,omitempty"`
}

// UpdateGradesRequest is the payload of the manual grading endpoint.
type UpdateGradesRequest struct {
	ManualGrades map[string]float64 `json:"manual_grades" binding:"required,dive,keys,uuid,endkeys,gte=0"`
	GradedBy     string             `json:"graded_by" binding:"omitempty,max=255"`
}
