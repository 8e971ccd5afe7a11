package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stemsi/testengine/internal/evaluator"
	"github.com/stemsi/testengine/internal/model"
)

// GradingService aggregates an attempt's answers into its analytics snapshot.
type GradingService struct {
	log zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(log zerolog.Logger) *GradingService {
	return &GradingService{
		log: log.With().Str("component", "grading").Logger(),
	}
}

// Snapshot builds the result of a completed attempt. Expected answers are
// recomputed from the question payloads rather than copied from submission
// time.
func (g *GradingService) Snapshot(test *model.Test, a *model.Attempt, answers []model.StudentAnswer, now time.Time) *model.AnalyticsSnapshot {
	questions := test.Questions()
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	snap := &model.AnalyticsSnapshot{
		AttemptID:      a.ID,
		StudentID:      a.StudentID,
		TestID:         test.ID,
		TestTitle:      test.Title,
		TotalQuestions: len(questions),
		TotalAttempted: len(answers),
		TotalMarks:     test.TotalMarks(),
		Answers:        make([]model.SnapshotAnswer, 0, len(answers)),
		CreatedAt:      now,
	}

	for _, ans := range answers {
		snap.MarksObtained += ans.MarksObtained
		if ans.IsCorrect != nil {
			if *ans.IsCorrect {
				snap.CorrectAnswers++
			} else {
				snap.IncorrectAnswers++
			}
		}

		entry := model.SnapshotAnswer{
			QuestionID:    ans.QuestionID,
			AnswerText:    ans.AnswerText,
			IsCorrect:     ans.IsCorrect,
			MarksObtained: ans.MarksObtained,
		}
		if q, ok := byID[ans.QuestionID]; ok {
			entry.QuestionText = q.Text
			entry.QuestionOrder = q.Order
			entry.QuestionType = q.Type
			entry.Marks = q.Marks
			entry.ExpectedAnswer = evaluator.Expected(q)
		}
		snap.Answers = append(snap.Answers, entry)
	}

	snap.AccuracyPercentage = Accuracy(snap.CorrectAnswers, snap.TotalAttempted)
	snap.CompletionTime = completionTime(a.FirstStartTime, a.EndTime)

	g.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("student_id", a.StudentID).
		Int("attempted", snap.TotalAttempted).
		Int("correct", snap.CorrectAnswers).
		Int("marks_obtained", snap.MarksObtained).
		Int("total_marks", snap.TotalMarks).
		Msg("Attempt graded")

	return snap
}

// Accuracy is correct/attempted as a percentage rounded half-to-even to two
// places, or 0 when nothing was attempted.
func Accuracy(correct, attempted int) float64 {
	if attempted == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(correct)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(attempted)), 8).
		RoundBank(2)
	return pct.InexactFloat64()
}

func completionTime(start, end *time.Time) model.CompletionTime {
	if start == nil || end == nil {
		return model.CompletionTime{Formatted: FormatDuration(0)}
	}
	secs := int(end.Sub(*start) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return model.CompletionTime{Seconds: secs, Formatted: FormatDuration(secs)}
}

// FormatDuration renders seconds as H:MM:SS, prefixed with whole days.
func FormatDuration(seconds int) string {
	days := seconds / 86400
	rem := seconds % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, rem%3600/60, rem%60)
	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
	return clock
}
