package model

import "github.com/google/uuid"

// QuestionType is the closed set of arithmetic question kinds.
type QuestionType string

const (
	QuestionTypePlus     QuestionType = "PLUS"
	QuestionTypeMultiply QuestionType = "MULTIPLY"
	QuestionTypeDivide   QuestionType = "DIVIDE"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypePlus, QuestionTypeMultiply, QuestionTypeDivide:
		return true
	}
	return false
}

// Question is one arithmetic item. Text holds the encoded operand payload,
// e.g. "[3, 5, 12]" for a sum or "[7, 8]" for a product or quotient.
type Question struct {
	ID        uuid.UUID    `json:"id"`
	TestID    uuid.UUID    `json:"test_id"`
	SectionID uuid.UUID    `json:"section_id"`
	Text      string       `json:"question_text"`
	Order     int          `json:"order"`
	Marks     int          `json:"marks"`
	Type      QuestionType `json:"question_type"`
}
