package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is a timed assessment authored outside this service.
type Test struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Level           string     `json:"level"`
	DurationMinutes int        `json:"duration_minutes"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	Sections        []Section  `json:"sections"`
}

// Section groups questions of one kind. Order is 1-based within the test.
type Section struct {
	ID          uuid.UUID  `json:"id"`
	TestID      uuid.UUID  `json:"test_id"`
	SectionType string     `json:"section_type"`
	Order       int        `json:"order"`
	Questions   []Question `json:"questions"`
}

// DurationSeconds is the full time budget of a fresh attempt.
func (t *Test) DurationSeconds() int {
	return t.DurationMinutes * 60
}

// AcceptsAttempts reports whether a new attempt may be created at now.
func (t *Test) AcceptsAttempts(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	return t.DueDate == nil || !now.After(*t.DueDate)
}

// Questions flattens every section's questions in rendering order.
func (t *Test) Questions() []Question {
	var out []Question
	for _, s := range t.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// TotalMarks sums the point value of every question.
func (t *Test) TotalMarks() int {
	total := 0
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			total += q.Marks
		}
	}
	return total
}

// Question looks a question up by ID.
func (t *Test) Question(id uuid.UUID) (Question, bool) {
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}
