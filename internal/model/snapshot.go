package model

import (
	"time"

	"github.com/google/uuid"
)

// AnalyticsSnapshot is the result record written when an attempt completes.
type AnalyticsSnapshot struct {
	AttemptID          uuid.UUID        `json:"attempt_id"`
	StudentID          int              `json:"student_id"`
	TestID             uuid.UUID        `json:"test_id"`
	TestTitle          string           `json:"test_title"`
	TotalQuestions     int              `json:"total_questions"`
	TotalAttempted     int              `json:"total_attempted"`
	TotalMarks         int              `json:"total_marks"`
	MarksObtained      int              `json:"marks_obtained"`
	CorrectAnswers     int              `json:"correct_answers"`
	IncorrectAnswers   int              `json:"incorrect_answers"`
	AccuracyPercentage float64          `json:"accuracy_percentage"`
	CompletionTime     CompletionTime   `json:"completion_time"`
	Answers            []SnapshotAnswer `json:"answers"`
	CreatedAt          time.Time        `json:"created_at"`
}

// CompletionTime is the time from first start to completion.
type CompletionTime struct {
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
}

// SnapshotAnswer is a frozen copy of one answer with its re-derived expected value.
type SnapshotAnswer struct {
	QuestionID     uuid.UUID    `json:"question_id"`
	QuestionText   string       `json:"question_text"`
	QuestionOrder  int          `json:"question_order"`
	QuestionType   QuestionType `json:"question_type"`
	Marks          int          `json:"marks"`
	AnswerText     string       `json:"answer_text"`
	IsCorrect      *bool        `json:"is_correct"`
	MarksObtained  int          `json:"marks_obtained"`
	ExpectedAnswer *string      `json:"expected_answer"`
}
