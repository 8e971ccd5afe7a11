package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		correct, attempted int
		want               float64
	}{
		{0, 0, 0},
		{1, 1, 100},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 8, 12.5},
		{0, 5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Accuracy(tt.correct, tt.attempted), "%d/%d", tt.correct, tt.attempted)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatDuration(0))
	assert.Equal(t, "0:05:30", FormatDuration(330))
	assert.Equal(t, "2:00:01", FormatDuration(7201))
	assert.Equal(t, "1 day, 0:00:05", FormatDuration(86405))
	assert.Equal(t, "2 days, 1:00:00", FormatDuration(2*86400+3600))
}

func TestSnapshotAggregates(t *testing.T) {
	plus := model.Question{ID: uuid.New(), Text: "[3, 4, 5]", Order: 1, Marks: 1, Type: model.QuestionTypePlus}
	mul := model.Question{ID: uuid.New(), Text: "[7, 8]", Order: 2, Marks: 2, Type: model.QuestionTypeMultiply}
	div := model.Question{ID: uuid.New(), Text: "[7, 2]", Order: 3, Marks: 3, Type: model.QuestionTypeDivide}
	test := &model.Test{ID: uuid.New(), Title: "Mixed", Sections: []model.Section{
		{Order: 1, Questions: []model.Question{plus}},
		{Order: 2, Questions: []model.Question{mul, div}},
	}}

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(5*time.Minute + 30*time.Second)
	attempt := &model.Attempt{ID: uuid.New(), StudentID: 4, FirstStartTime: &start, EndTime: &end}

	yes, no := true, false
	answers := []model.StudentAnswer{
		{QuestionID: plus.ID, AnswerText: "12", IsCorrect: &yes, MarksObtained: 1},
		{QuestionID: div.ID, AnswerText: "4", IsCorrect: &no, MarksObtained: 0},
	}

	snap := NewGradingService(zerolog.Nop()).Snapshot(test, attempt, answers, end)
	assert.Equal(t, 3, snap.TotalQuestions)
	assert.Equal(t, 2, snap.TotalAttempted)
	assert.Equal(t, 6, snap.TotalMarks)
	assert.Equal(t, 1, snap.MarksObtained)
	assert.Equal(t, 1, snap.CorrectAnswers)
	assert.Equal(t, 1, snap.IncorrectAnswers)
	assert.Equal(t, 50.0, snap.AccuracyPercentage)
	assert.Equal(t, model.CompletionTime{Seconds: 330, Formatted: "0:05:30"}, snap.CompletionTime)

	require.Len(t, snap.Answers, 2)
	require.NotNil(t, snap.Answers[1].ExpectedAnswer)
	assert.Equal(t, "3.50", *snap.Answers[1].ExpectedAnswer)
	assert.Equal(t, model.QuestionTypeDivide, snap.Answers[1].QuestionType)
}

func TestSnapshotNothingAttempted(t *testing.T) {
	q := model.Question{ID: uuid.New(), Text: "[1, 2]", Order: 1, Marks: 1, Type: model.QuestionTypePlus}
	test := &model.Test{ID: uuid.New(), Sections: []model.Section{{Questions: []model.Question{q}}}}

	snap := NewGradingService(zerolog.Nop()).Snapshot(test, &model.Attempt{ID: uuid.New()}, nil, time.Now())
	assert.Equal(t, 1, snap.TotalQuestions)
	assert.Zero(t, snap.TotalAttempted)
	assert.Zero(t, snap.AccuracyPercentage)
	assert.Empty(t, snap.Answers)
}
