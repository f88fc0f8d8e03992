package model

import (
	"github.com/google/uuid"
)

// SessionStatus enumerates the states of an exam-taking session.
type SessionStatus string

const (
	SessionStatusLoading    SessionStatus = "loading"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusSubmitting SessionStatus = "submitting"
	SessionStatusSubmitted  SessionStatus = "submitted"
)

// SessionSnapshot is the status projection shown while the exam runs.
type SessionSnapshot struct {
	SessionID            uuid.UUID         `json:"session_id"`
	Status               SessionStatus     `json:"status"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	RemainingTimeSeconds int               `json:"remaining_time_seconds"`
	RemainingTime        string            `json:"remaining_time"`
	Answers              map[string]string `json:"answers"`
	IsSubmitting         bool              `json:"is_submitting"`
	ConfirmPending       bool              `json:"confirm_pending"`
	ViolationCount       int               `json:"violation_count"`
}

// ResultSummary is the projection shown after the session is terminal.
type ResultSummary struct {
	Score          float64       `json:"score"`
	MaxScore       float64       `json:"max_score"`
	CorrectCount   int           `json:"correct_count"`
	TotalQuestions int           `json:"total_questions"`
	GradingStatus  GradingStatus `json:"grading_status"`
}

// JoinSessionRequest is the payload for a student starting an exam.
type JoinSessionRequest struct {
	ExamCode    string `json:"exam_code" binding:"required,min=3,max=32,examcode"`
	StudentName string `json:"student_name" binding:"required,min=1,max=255"`
}

// JoinSessionResponse carries the stream token for the new session.
type JoinSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	Exam      Exam      `json:"exam"`
	Questions int       `json:"question_count"`
}
