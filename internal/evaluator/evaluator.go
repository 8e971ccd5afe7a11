// Package evaluator derives the canonical answer of an arithmetic question
// from its encoded operand payload and grades free-text answers against it.
//
// All arithmetic is exact decimal. DIVIDE results and DIVIDE answers are
// rounded to two places with round-half-to-even, so 1/8 grades as 0.12 and
// 3/8 as 0.38.
package evaluator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/testengine/internal/model"
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidAnswerFormat = errors.New("invalid answer format")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrUnsupportedType     = errors.New("unsupported question type")
)

// DividePlaces is the precision DIVIDE answers are compared at.
const DividePlaces = 2

// MaxExponent bounds the decimal exponent of any operand or answer. Rescaling
// a value costs time proportional to the exponent, so "1e-50000000" must be
// refused before it is rounded.
const MaxExponent = 18

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// Result is the outcome of grading one answer. Err carries the sentinel
// behind Error when grading could not complete normally.
type Result struct {
	IsCorrect      bool
	MarksObtained  int
	ExpectedAnswer *string
	Error          string
	Err            error
}

// DecodeOperands parses a literal list of numbers such as "[3, 5, 12]".
// Tuple brackets and a single trailing comma are accepted. Anything that
// is not a flat list of numeric literals is ErrMalformedPayload.
func DecodeOperands(payload string) ([]decimal.Decimal, error) {
	s := strings.TrimSpace(payload)
	if len(s) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}
	open, closing := s[0], s[len(s)-1]
	if !(open == '[' && closing == ']') && !(open == '(' && closing == ')') {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}

	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []decimal.Decimal{}, nil
	}
	body = strings.TrimSuffix(body, ",")

	parts := strings.Split(body, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !decimalPattern.MatchString(p) {
			return nil, fmt.Errorf("%w: element %q", ErrMalformedPayload, p)
		}
		d, ok := parseBounded(p)
		if !ok {
			return nil, fmt.Errorf("%w: element %q", ErrMalformedPayload, p)
		}
		out = append(out, d)
	}
	return out, nil
}

// parseBounded parses a literal already matched by decimalPattern, refusing
// exponents outside ±MaxExponent.
func parseBounded(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp > MaxExponent || exp < -MaxExponent {
		return decimal.Zero, false
	}
	return d, true
}

// requireIntegers rejects fractional operands, whose sums and products no
// integer answer could match.
func requireIntegers(t model.QuestionType, ops []decimal.Decimal) error {
	for _, op := range ops {
		if !op.IsInteger() {
			return fmt.Errorf("%w: %s operand %s is not an integer", ErrMalformedPayload, t, op)
		}
	}
	return nil
}

// ComputeExpected returns the canonical answer of q.
func ComputeExpected(q model.Question) (decimal.Decimal, error) {
	ops, err := DecodeOperands(q.Text)
	if err != nil {
		return decimal.Zero, err
	}

	switch q.Type {
	case model.QuestionTypePlus:
		if len(ops) == 0 {
			return decimal.Zero, fmt.Errorf("%w: PLUS needs at least one operand", ErrMalformedPayload)
		}
		if err := requireIntegers(q.Type, ops); err != nil {
			return decimal.Zero, err
		}
		return decimal.Sum(ops[0], ops[1:]...), nil

	case model.QuestionTypeMultiply:
		if len(ops) == 0 {
			return decimal.Zero, fmt.Errorf("%w: MULTIPLY needs at least one operand", ErrMalformedPayload)
		}
		if err := requireIntegers(q.Type, ops); err != nil {
			return decimal.Zero, err
		}
		product := ops[0]
		for _, op := range ops[1:] {
			product = product.Mul(op)
		}
		return product, nil

	case model.QuestionTypeDivide:
		if len(ops) != 2 {
			return decimal.Zero, fmt.Errorf("%w: DIVIDE needs exactly two operands, got %d", ErrMalformedPayload, len(ops))
		}
		if ops[1].IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		// Enough guard digits that the half-even decision at 2 places is exact
		// for any terminating quotient a student could reasonably be asked for.
		quotient := ops[0].DivRound(ops[1], 16)
		return quotient.RoundBank(DividePlaces), nil

	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedType, q.Type)
	}
}

// FormatExpected renders an expected value the way a student would type it.
func FormatExpected(v decimal.Decimal, t model.QuestionType) string {
	if t == model.QuestionTypeDivide {
		return v.StringFixed(DividePlaces)
	}
	return v.String()
}

// ParseStudentAnswer normalizes free text into the numeric shape of t.
// DIVIDE accepts any decimal and rounds it to two places; other types
// require an integer.
func ParseStudentAnswer(text string, t model.QuestionType) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)

	switch t {
	case model.QuestionTypeDivide:
		if !decimalPattern.MatchString(s) {
			return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAnswerFormat, text)
		}
		d, ok := parseBounded(s)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidAnswerFormat, text)
		}
		return d.RoundBank(DividePlaces), nil

	case model.QuestionTypePlus, model.QuestionTypeMultiply:
		if !integerPattern.MatchString(s) {
			return decimal.Zero, fmt.Errorf("%w: %q is not an integer", ErrInvalidAnswerFormat, text)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not an integer", ErrInvalidAnswerFormat, text)
		}
		return d, nil

	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
}

// Expected returns the formatted canonical answer of q, or nil when q
// cannot be graded.
func Expected(q model.Question) *string {
	v, err := ComputeExpected(q)
	if err != nil {
		return nil
	}
	s := FormatExpected(v, q.Type)
	return &s
}

// Grade compares answer against the canonical answer of q. It never fails:
// problems with the payload or the answer come back as an incorrect result
// worth zero marks with Error set.
func Grade(q model.Question, answer string) Result {
	expected, err := ComputeExpected(q)
	if err != nil {
		if errors.Is(err, ErrUnsupportedType) {
			return Result{Error: ErrUnsupportedType.Error(), Err: err}
		}
		return Result{Error: err.Error(), Err: err}
	}
	formatted := FormatExpected(expected, q.Type)

	got, err := ParseStudentAnswer(answer, q.Type)
	if err != nil {
		return Result{ExpectedAnswer: &formatted, Error: err.Error(), Err: err}
	}

	if !got.Equal(expected) {
		return Result{ExpectedAnswer: &formatted}
	}
	return Result{
		IsCorrect:      true,
		MarksObtained:  q.Marks,
		ExpectedAnswer: &formatted,
	}
}
