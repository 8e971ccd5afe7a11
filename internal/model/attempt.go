package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusPending     AttemptStatus = "PENDING"
	AttemptStatusInProgress  AttemptStatus = "IN_PROGRESS"
	AttemptStatusInterrupted AttemptStatus = "INTERRUPTED"
	AttemptStatusCompleted   AttemptStatus = "COMPLETED"
)

// Terminal reports whether no further transitions are possible.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted
}

// Running reports whether the attempt owns a live clock.
func (s AttemptStatus) Running() bool {
	return s == AttemptStatusInProgress || s == AttemptStatusInterrupted
}

// Attempt is one student's go at one test.
//
// StartTime is the clock anchor: it moves to the resume time on every
// resume. FirstStartTime keeps the original start for completion time.
type Attempt struct {
	ID             uuid.UUID     `json:"id"`
	StudentID      int           `json:"student_id"`
	TestID         uuid.UUID     `json:"test_id"`
	Status         AttemptStatus `json:"status"`
	StartTime      *time.Time    `json:"start_time,omitempty"`
	FirstStartTime *time.Time    `json:"first_start_time,omitempty"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Score          int           `json:"score"`
	Version        int           `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TestSession is the persisted countdown of an attempt.
//
// BudgetSeconds is the remaining time at the last anchor; the live value is
// derived from it and the attempt's StartTime on every resync.
type TestSession struct {
	AttemptID            uuid.UUID  `json:"attempt_id"`
	RemainingTimeSeconds int        `json:"remaining_time_seconds"`
	BudgetSeconds        int        `json:"-"`
	LastSync             time.Time  `json:"last_sync"`
	LastQuestionID       *uuid.UUID `json:"last_question_id,omitempty"`
}

// StudentAnswer is the latest submission for one (attempt, question).
type StudentAnswer struct {
	ID            uuid.UUID `json:"id"`
	AttemptID     uuid.UUID `json:"attempt_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	AnswerText    string    `json:"answer_text"`
	IsCorrect     *bool     `json:"is_correct"`
	MarksObtained int       `json:"marks_obtained"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// AttemptView is an attempt with its clock and answers, as shown to the student.
type AttemptView struct {
	Attempt          Attempt         `json:"attempt"`
	RemainingSeconds int             `json:"remaining_seconds"`
	LastQuestionID   *uuid.UUID      `json:"last_question_id,omitempty"`
	Answers          []StudentAnswer `json:"answers"`
}

// GradedAnswer is the immediate grading outcome of a submission.
type GradedAnswer struct {
	QuestionID       uuid.UUID `json:"question_id"`
	IsCorrect        bool      `json:"is_correct"`
	MarksObtained    int       `json:"marks_obtained"`
	ExpectedAnswer   *string   `json:"expected_answer"`
	Error            string    `json:"error,omitempty"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// PauseResult reports the frozen remaining time after a pause.
type PauseResult struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// ExtendResult reports the remaining time after an extension.
type ExtendResult struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	Status           AttemptStatus `json:"status"`
	RemainingSeconds int           `json:"remaining_seconds"`
}

// CreateAttemptRequest is the payload for registering a new attempt.
type CreateAttemptRequest struct {
	TestID string `json:"test_id" binding:"required,uuid"`
}

// SubmitAnswerRequest is the payload for answering one question.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"max=64,singleline"`
}

// ExtendTimeRequest is the payload for granting extra minutes.
type ExtendTimeRequest struct {
	AdditionalMinutes int `json:"additional_minutes" binding:"required,max=10080"`
}
