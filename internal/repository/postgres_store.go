package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/testengine/internal/model"
)

// PostgreSQL error codes translated into repository sentinels.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// translateErr maps driver errors onto repository sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
		}
	}
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Attempt rows are serialized
// by SELECT ... FOR UPDATE inside LockAttempt.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

// GetTest loads a test with its sections and questions in order.
func (s *PostgresStore) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return getTest(ctx, s.pool, id)
}

// ListActiveTestIDs returns every active test, used to prewarm the paper cache.
func (s *PostgresStore) ListActiveTestIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tests WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateTest inserts a test with all its sections and questions.
func (s *PostgresStore) CreateTest(ctx context.Context, t *model.Test) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO tests (title, level, duration_minutes, due_date, is_active)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			t.Title, t.Level, t.DurationMinutes, t.DueDate, t.IsActive,
		).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return translateErr(err)
		}

		for i := range t.Sections {
			sec := &t.Sections[i]
			sec.TestID = t.ID
			err := tx.QueryRow(ctx,
				`INSERT INTO test_sections (test_id, section_type, section_order)
				 VALUES ($1, $2, $3)
				 RETURNING id`,
				t.ID, sec.SectionType, sec.Order,
			).Scan(&sec.ID)
			if err != nil {
				return translateErr(err)
			}

			for j := range sec.Questions {
				q := &sec.Questions[j]
				q.TestID, q.SectionID = t.ID, sec.ID
				err := tx.QueryRow(ctx,
					`INSERT INTO questions (test_id, section_id, question_text, question_order, marks, question_type)
					 VALUES ($1, $2, $3, $4, $5, $6)
					 RETURNING id`,
					t.ID, sec.ID, q.Text, q.Order, q.Marks, q.Type,
				).Scan(&q.ID)
				if err != nil {
					return translateErr(err)
				}
			}
		}
		return nil
	})
}

// ListAttemptsByStudent returns a student's attempts, newest first.
func (s *PostgresStore) ListAttemptsByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM student_tests
		 WHERE student_id = $1
		 ORDER BY created_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetSnapshot retrieves the analytics snapshot of a completed attempt.
func (s *PostgresStore) GetSnapshot(ctx context.Context, attemptID uuid.UUID) (*model.AnalyticsSnapshot, error) {
	snap := &model.AnalyticsSnapshot{}
	err := s.pool.QueryRow(ctx,
		`SELECT attempt_id, student_id, test_id, test_title, total_questions, total_attempted,
		        total_marks, marks_obtained, correct_answers, incorrect_answers, accuracy_percentage,
		        completion_seconds, completion_formatted, answers_json, created_at
		 FROM test_analytics
		 WHERE attempt_id = $1`, attemptID,
	).Scan(&snap.AttemptID, &snap.StudentID, &snap.TestID, &snap.TestTitle, &snap.TotalQuestions,
		&snap.TotalAttempted, &snap.TotalMarks, &snap.MarksObtained, &snap.CorrectAnswers,
		&snap.IncorrectAnswers, &snap.AccuracyPercentage, &snap.CompletionTime.Seconds,
		&snap.CompletionTime.Formatted, &snap.Answers, &snap.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return snap, nil
}

// ─── Shared queries ─────────────────────────────────────────────────────

const attemptColumns = `id, student_id, test_id, status, start_time, first_start_time, end_time,
	score, version, created_at, updated_at`

func scanAttempt(row pgx.Row, a *model.Attempt) error {
	return row.Scan(&a.ID, &a.StudentID, &a.TestID, &a.Status, &a.StartTime, &a.FirstStartTime,
		&a.EndTime, &a.Score, &a.Version, &a.CreatedAt, &a.UpdatedAt)
}

func getTest(ctx context.Context, q querier, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := q.QueryRow(ctx,
		`SELECT id, title, level, duration_minutes, due_date, is_active, created_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Level, &t.DurationMinutes, &t.DueDate, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}

	rows, err := q.Query(ctx,
		`SELECT s.id, s.section_type, s.section_order,
		        q.id, q.question_text, q.question_order, q.marks, q.question_type
		 FROM test_sections s
		 LEFT JOIN questions q ON q.section_id = s.id
		 WHERE s.test_id = $1
		 ORDER BY s.section_order ASC, q.question_order ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t.Sections = []model.Section{}
	for rows.Next() {
		var (
			secID    uuid.UUID
			secType  string
			secOrder int
			qID      *uuid.UUID
			qText    *string
			qOrder   *int
			qMarks   *int
			qType    *string
		)
		if err := rows.Scan(&secID, &secType, &secOrder, &qID, &qText, &qOrder, &qMarks, &qType); err != nil {
			return nil, err
		}
		if n := len(t.Sections); n == 0 || t.Sections[n-1].ID != secID {
			t.Sections = append(t.Sections, model.Section{
				ID: secID, TestID: t.ID, SectionType: secType, Order: secOrder, Questions: []model.Question{},
			})
		}
		if qID == nil {
			continue
		}
		sec := &t.Sections[len(t.Sections)-1]
		sec.Questions = append(sec.Questions, model.Question{
			ID:        *qID,
			TestID:    t.ID,
			SectionID: secID,
			Text:      *qText,
			Order:     *qOrder,
			Marks:     *qMarks,
			Type:      model.QuestionType(*qType),
		})
	}
	return t, rows.Err()
}

// ─── Transaction ────────────────────────────────────────────────────────

type pgTx struct {
	q querier
}

func (t *pgTx) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return getTest(ctx, t.q, id)
}

func (t *pgTx) HasOpenAttempt(ctx context.Context, studentID int, testID uuid.UUID) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM student_tests
		   WHERE student_id = $1 AND test_id = $2 AND status <> $3
		 )`, studentID, testID, model.AttemptStatusCompleted,
	).Scan(&exists)
	return exists, translateErr(err)
}

func (t *pgTx) CreateAttempt(ctx context.Context, a *model.Attempt, s *model.TestSession) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO student_tests (student_id, test_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING id, version`,
		a.StudentID, a.TestID, a.Status, a.CreatedAt,
	).Scan(&a.ID, &a.Version)
	if err != nil {
		return translateErr(err)
	}
	a.UpdatedAt = a.CreatedAt

	s.AttemptID = a.ID
	_, err = t.q.Exec(ctx,
		`INSERT INTO test_sessions (attempt_id, remaining_time_seconds, budget_seconds, last_sync)
		 VALUES ($1, $2, $3, $4)`,
		s.AttemptID, s.RemainingTimeSeconds, s.BudgetSeconds, s.LastSync,
	)
	return translateErr(err)
}

func (t *pgTx) LockAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, *model.TestSession, error) {
	a := &model.Attempt{}
	row := t.q.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM student_tests WHERE id = $1 FOR UPDATE`, id)
	if err := scanAttempt(row, a); err != nil {
		return nil, nil, translateErr(err)
	}

	s := &model.TestSession{}
	err := t.q.QueryRow(ctx,
		`SELECT attempt_id, remaining_time_seconds, budget_seconds, last_sync, last_question_id
		 FROM test_sessions WHERE attempt_id = $1 FOR UPDATE`, id,
	).Scan(&s.AttemptID, &s.RemainingTimeSeconds, &s.BudgetSeconds, &s.LastSync, &s.LastQuestionID)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	return a, s, nil
}

func (t *pgTx) UpdateAttempt(ctx context.Context, a *model.Attempt) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE student_tests
		 SET status = $1, start_time = $2, first_start_time = $3, end_time = $4, score = $5,
		     version = version + 1, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		a.Status, a.StartTime, a.FirstStartTime, a.EndTime, a.Score, a.UpdatedAt, a.ID, a.Version,
	)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}

func (t *pgTx) UpdateSession(ctx context.Context, s *model.TestSession) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE test_sessions
		 SET remaining_time_seconds = $1, budget_seconds = $2, last_sync = $3, last_question_id = $4
		 WHERE attempt_id = $5`,
		s.RemainingTimeSeconds, s.BudgetSeconds, s.LastSync, s.LastQuestionID, s.AttemptID,
	)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) UpsertAnswer(ctx context.Context, ans *model.StudentAnswer) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO student_answers (attempt_id, question_id, answer_text, is_correct, marks_obtained, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     is_correct = EXCLUDED.is_correct,
		     marks_obtained = EXCLUDED.marks_obtained,
		     answered_at = EXCLUDED.answered_at
		 RETURNING id`,
		ans.AttemptID, ans.QuestionID, ans.AnswerText, ans.IsCorrect, ans.MarksObtained, ans.AnsweredAt,
	).Scan(&ans.ID)
	return translateErr(err)
}

func (t *pgTx) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.StudentAnswer, error) {
	rows, err := t.q.Query(ctx,
		`SELECT a.id, a.attempt_id, a.question_id, a.answer_text, a.is_correct, a.marks_obtained, a.answered_at
		 FROM student_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.attempt_id = $1
		 ORDER BY q.question_order ASC`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.StudentAnswer{}
	for rows.Next() {
		var a model.StudentAnswer
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.AnswerText, &a.IsCorrect, &a.MarksObtained, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (t *pgTx) UpsertSnapshot(ctx context.Context, snap *model.AnalyticsSnapshot) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO test_analytics (attempt_id, student_id, test_id, test_title, total_questions,
		        total_attempted, total_marks, marks_obtained, correct_answers, incorrect_answers,
		        accuracy_percentage, completion_seconds, completion_formatted, answers_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET total_questions = EXCLUDED.total_questions,
		     total_attempted = EXCLUDED.total_attempted,
		     total_marks = EXCLUDED.total_marks,
		     marks_obtained = EXCLUDED.marks_obtained,
		     correct_answers = EXCLUDED.correct_answers,
		     incorrect_answers = EXCLUDED.incorrect_answers,
		     accuracy_percentage = EXCLUDED.accuracy_percentage,
		     completion_seconds = EXCLUDED.completion_seconds,
		     completion_formatted = EXCLUDED.completion_formatted,
		     answers_json = EXCLUDED.answers_json`,
		snap.AttemptID, snap.StudentID, snap.TestID, snap.TestTitle, snap.TotalQuestions,
		snap.TotalAttempted, snap.TotalMarks, snap.MarksObtained, snap.CorrectAnswers,
		snap.IncorrectAnswers, snap.AccuracyPercentage, snap.CompletionTime.Seconds,
		snap.CompletionTime.Formatted, snap.Answers, snap.CreatedAt,
	)
	return translateErr(err)
}
