package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/clock"
	"github.com/stemsi/testengine/internal/evaluator"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/repository"
)

// Roles carried by the identity layer's token claims.
const (
	RoleStudent = "student"
	RoleStaff   = "staff"
)

// Actor is the authenticated caller of an attempt operation.
type Actor struct {
	ID   int
	Role string
}

// IsStaff reports whether the actor may act on any student's attempt.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff
}

func (a Actor) canAccess(at *model.Attempt) bool {
	return a.IsStaff() || at.StudentID == a.ID
}

// AttemptService drives the attempt state machine:
//
//	PENDING -> IN_PROGRESS <-> INTERRUPTED -> COMPLETED
//
// Expiry is lazy. Every operation that touches an attempt first resyncs its
// clock and completes it when no time is left.
type AttemptService struct {
	store  repository.Store
	clock  clock.Clock
	timer  *SessionClock
	grader *GradingService
	log    zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(store repository.Store, clk clock.Clock, grader *GradingService, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		store:  store,
		clock:  clk,
		timer:  NewSessionClock(clk),
		grader: grader,
		log:    log.With().Str("component", "attempt").Logger(),
	}
}

// attemptTx is the locked state handed to a mutation.
type attemptTx struct {
	tx      repository.Tx
	test    *model.Test
	attempt *model.Attempt
	session *model.TestSession
}

// withAttempt locks the attempt, checks ownership, and runs fn in one
// transaction. A concurrent modification is retried once with a fresh load.
func (s *AttemptService) withAttempt(ctx context.Context, actor Actor, attemptID uuid.UUID, fn func(st *attemptTx) error) error {
	run := func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			a, sess, err := tx.LockAttempt(ctx, attemptID)
			if err != nil {
				return err
			}
			if !actor.canAccess(a) {
				return ErrNotOwner
			}
			test, err := tx.GetTest(ctx, a.TestID)
			if err != nil {
				return fmt.Errorf("load test: %w", err)
			}
			return fn(&attemptTx{tx: tx, test: test, attempt: a, session: sess})
		})
	}

	err := run()
	if errors.Is(err, repository.ErrConflict) {
		s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Conflict, retrying once")
		err = run()
	}
	return mapStoreErr(err)
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateAttempt, err)
	}
	return err
}

// CreateAttempt registers a PENDING attempt with a full clock.
func (s *AttemptService) CreateAttempt(ctx context.Context, actor Actor, testID uuid.UUID) (*model.Attempt, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	now := s.clock.Now()
	if !test.AcceptsAttempts(now) {
		return nil, ErrTestUnavailable
	}

	a := &model.Attempt{
		StudentID: actor.ID,
		TestID:    test.ID,
		Status:    model.AttemptStatusPending,
		CreatedAt: now,
	}
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		open, err := tx.HasOpenAttempt(ctx, actor.ID, test.ID)
		if err != nil {
			return err
		}
		if open {
			return ErrDuplicateAttempt
		}
		sess := &model.TestSession{}
		s.timer.Initialize(sess, test.DurationSeconds())
		return tx.CreateAttempt(ctx, a, sess)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("student_id", a.StudentID).
		Str("test_id", test.ID.String()).
		Msg("Attempt created")
	return a, nil
}

// Start moves a PENDING attempt to IN_PROGRESS with a fresh clock.
func (s *AttemptService) Start(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.Attempt, error) {
	var out model.Attempt
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if st.attempt.Status != model.AttemptStatusPending {
			return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, st.attempt.Status)
		}
		now := s.clock.Now()
		s.timer.Initialize(st.session, st.test.DurationSeconds())
		st.attempt.StartTime = &now
		st.attempt.FirstStartTime = &now
		if err := s.transition(ctx, st, model.AttemptStatusInProgress); err != nil {
			return err
		}
		out = *st.attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause freezes an IN_PROGRESS attempt and returns its remaining seconds.
func (s *AttemptService) Pause(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.PauseResult, error) {
	var (
		out     model.PauseResult
		expired bool
	)
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if st.attempt.Status != model.AttemptStatusInProgress {
			return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, st.attempt.Status)
		}
		if s.timer.Resync(st.session, *st.attempt.StartTime) <= 0 {
			expired = true
			_, err := s.complete(ctx, st)
			return err
		}
		if err := s.transition(ctx, st, model.AttemptStatusInterrupted); err != nil {
			return err
		}
		out = model.PauseResult{AttemptID: st.attempt.ID, RemainingSeconds: st.session.RemainingTimeSeconds}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrTestExpired
	}
	return &out, nil
}

// Resume moves an INTERRUPTED attempt back to IN_PROGRESS and re-anchors
// its clock. An attempt with no time left is completed instead.
func (s *AttemptService) Resume(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.Attempt, error) {
	var (
		out     model.Attempt
		expired bool
	)
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if st.attempt.Status != model.AttemptStatusInterrupted {
			return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, st.attempt.Status)
		}
		if st.session.RemainingTimeSeconds <= 0 {
			expired = true
			_, err := s.complete(ctx, st)
			return err
		}
		anchor := s.timer.Reanchor(st.session)
		st.attempt.StartTime = &anchor
		if err := s.transition(ctx, st, model.AttemptStatusInProgress); err != nil {
			return err
		}
		out = *st.attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrTestExpired
	}
	return &out, nil
}

// SubmitAnswer stores and immediately grades an answer to one question.
// Unparseable answers are stored as incorrect; the result carries the reason.
func (s *AttemptService) SubmitAnswer(ctx context.Context, actor Actor, attemptID, questionID uuid.UUID, text string) (*model.GradedAnswer, error) {
	var (
		out     model.GradedAnswer
		expired bool
	)
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if st.attempt.Status != model.AttemptStatusInProgress {
			return fmt.Errorf("%w: cannot answer while %s", ErrInvalidTransition, st.attempt.Status)
		}
		if s.timer.Resync(st.session, *st.attempt.StartTime) <= 0 {
			expired = true
			_, err := s.complete(ctx, st)
			return err
		}

		q, ok := st.test.Question(questionID)
		if !ok {
			return fmt.Errorf("%w: question %s is not part of this test", ErrNotFound, questionID)
		}

		result := evaluator.Grade(q, text)
		correct := result.IsCorrect
		ans := &model.StudentAnswer{
			AttemptID:     st.attempt.ID,
			QuestionID:    q.ID,
			AnswerText:    text,
			IsCorrect:     &correct,
			MarksObtained: result.MarksObtained,
			AnsweredAt:    s.clock.Now(),
		}
		if err := st.tx.UpsertAnswer(ctx, ans); err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}

		st.session.LastQuestionID = &q.ID
		if err := st.tx.UpdateSession(ctx, st.session); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		out = model.GradedAnswer{
			QuestionID:       q.ID,
			IsCorrect:        result.IsCorrect,
			MarksObtained:    result.MarksObtained,
			ExpectedAnswer:   result.ExpectedAnswer,
			Error:            result.Error,
			RemainingSeconds: st.session.RemainingTimeSeconds,
		}
		if result.Err != nil {
			s.log.Debug().
				Err(result.Err).
				Str("attempt_id", st.attempt.ID.String()).
				Str("question_id", q.ID.String()).
				Msg("Answer graded with error")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrTestExpired
	}
	return &out, nil
}

// End completes a running attempt and returns its snapshot. An attempt
// whose time ran out unobserved is completed the same way.
func (s *AttemptService) End(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.AnalyticsSnapshot, error) {
	var snap *model.AnalyticsSnapshot
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if !st.attempt.Status.Running() {
			return fmt.Errorf("%w: cannot end from %s", ErrInvalidTransition, st.attempt.Status)
		}
		if st.attempt.Status == model.AttemptStatusInProgress {
			s.timer.Resync(st.session, *st.attempt.StartTime)
		}
		var err error
		snap, err = s.complete(ctx, st)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ExtendTime grants extra minutes to a running attempt. Extending an
// INTERRUPTED attempt also resumes it.
func (s *AttemptService) ExtendTime(ctx context.Context, actor Actor, attemptID uuid.UUID, additionalMinutes int) (*model.ExtendResult, error) {
	if additionalMinutes <= 0 || additionalMinutes > MaxExtensionMinutes {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidExtension, additionalMinutes)
	}

	var out model.ExtendResult
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		status := st.attempt.Status
		if !status.Running() {
			return fmt.Errorf("%w: cannot extend while %s", ErrInvalidTransition, status)
		}

		if status == model.AttemptStatusInProgress {
			s.timer.Resync(st.session, *st.attempt.StartTime)
		}
		// Re-anchor before adding time so an attempt that ran out unobserved
		// gets the full extension from now.
		anchor := s.timer.Reanchor(st.session)
		st.attempt.StartTime = &anchor
		if _, err := s.timer.Extend(st.session, additionalMinutes*60); err != nil {
			return err
		}
		if err := s.transition(ctx, st, model.AttemptStatusInProgress); err != nil {
			return err
		}

		s.log.Info().
			Str("attempt_id", st.attempt.ID.String()).
			Int("added_seconds", additionalMinutes*60).
			Int("remaining", st.session.RemainingTimeSeconds).
			Msg("Attempt time extended")

		out = model.ExtendResult{
			AttemptID:        st.attempt.ID,
			Status:           st.attempt.Status,
			RemainingSeconds: st.session.RemainingTimeSeconds,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAttempt returns the attempt with its live remaining time and answers.
// An attempt found out of time is completed before it is returned.
func (s *AttemptService) GetAttempt(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.AttemptView, error) {
	var out model.AttemptView
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if err := s.expireIfDue(ctx, st); err != nil {
			return err
		}
		answers, err := st.tx.ListAnswers(ctx, st.attempt.ID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		out = model.AttemptView{
			Attempt:        *st.attempt,
			LastQuestionID: st.session.LastQuestionID,
			Answers:        answers,
		}
		if st.attempt.Status.Running() {
			out.RemainingSeconds = st.session.RemainingTimeSeconds
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResult returns the analytics snapshot of a completed attempt.
func (s *AttemptService) GetResult(ctx context.Context, actor Actor, attemptID uuid.UUID) (*model.AnalyticsSnapshot, error) {
	err := s.withAttempt(ctx, actor, attemptID, func(st *attemptTx) error {
		if err := s.expireIfDue(ctx, st); err != nil {
			return err
		}
		if st.attempt.Status != model.AttemptStatusCompleted {
			return ErrNotCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap, err := s.store.GetSnapshot(ctx, attemptID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return snap, nil
}

// ListAttempts returns the actor's attempts, newest first.
func (s *AttemptService) ListAttempts(ctx context.Context, actor Actor) ([]model.Attempt, error) {
	attempts, err := s.store.ListAttemptsByStudent(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// expireIfDue resyncs an IN_PROGRESS attempt and completes it when its time
// is up. Used by reads, which report the completed state instead of failing.
func (s *AttemptService) expireIfDue(ctx context.Context, st *attemptTx) error {
	if st.attempt.Status != model.AttemptStatusInProgress {
		return nil
	}
	if s.timer.Resync(st.session, *st.attempt.StartTime) > 0 {
		return st.tx.UpdateSession(ctx, st.session)
	}
	_, err := s.complete(ctx, st)
	return err
}

// transition persists a status change together with the session.
func (s *AttemptService) transition(ctx context.Context, st *attemptTx, to model.AttemptStatus) error {
	from := st.attempt.Status
	st.attempt.Status = to
	st.attempt.UpdatedAt = s.clock.Now()
	if err := st.tx.UpdateAttempt(ctx, st.attempt); err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if err := st.tx.UpdateSession(ctx, st.session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	s.log.Info().
		Str("attempt_id", st.attempt.ID.String()).
		Int("student_id", st.attempt.StudentID).
		Str("test_id", st.attempt.TestID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("remaining", st.session.RemainingTimeSeconds).
		Msg("Attempt transition")
	return nil
}

// complete moves a running attempt to COMPLETED, grades it, and writes the
// snapshot, all inside the caller's transaction.
func (s *AttemptService) complete(ctx context.Context, st *attemptTx) (*model.AnalyticsSnapshot, error) {
	now := s.clock.Now()
	st.attempt.EndTime = &now
	if st.session.RemainingTimeSeconds <= 0 {
		s.log.Warn().
			Str("attempt_id", st.attempt.ID.String()).
			Int("student_id", st.attempt.StudentID).
			Msg("Attempt expired, forcing completion")
	}

	answers, err := st.tx.ListAnswers(ctx, st.attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	snap := s.grader.Snapshot(st.test, st.attempt, answers, now)
	st.attempt.Score = snap.MarksObtained

	if err := s.transition(ctx, st, model.AttemptStatusCompleted); err != nil {
		return nil, err
	}
	if err := st.tx.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}
	return snap, nil
}
