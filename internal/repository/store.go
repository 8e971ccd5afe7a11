package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/testengine/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrConflict  = errors.New("concurrent modification")
)

// TestReader reads authored tests. Tests are immutable once published, so
// readers never need a lock on them.
type TestReader interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
}

// Store is the persistence boundary of the attempt engine.
//
// Every mutation of an attempt goes through InTx: fn runs inside one
// transaction that commits when fn returns nil and rolls back otherwise.
type Store interface {
	TestReader

	ListActiveTestIDs(ctx context.Context) ([]uuid.UUID, error)
	CreateTest(ctx context.Context, t *model.Test) error
	ListAttemptsByStudent(ctx context.Context, studentID int) ([]model.Attempt, error)
	GetSnapshot(ctx context.Context, attemptID uuid.UUID) (*model.AnalyticsSnapshot, error)

	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by the attempt state machine.
type Tx interface {
	TestReader

	// HasOpenAttempt reports whether a non-completed attempt exists for the pair.
	HasOpenAttempt(ctx context.Context, studentID int, testID uuid.UUID) (bool, error)
	// CreateAttempt inserts the attempt and its session, filling generated IDs.
	// Returns ErrDuplicate when an open attempt for the pair already exists.
	CreateAttempt(ctx context.Context, a *model.Attempt, s *model.TestSession) error
	// LockAttempt loads an attempt and its session and holds them until the
	// transaction ends.
	LockAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, *model.TestSession, error)
	// UpdateAttempt writes a if its stored version still equals a.Version,
	// then bumps a.Version. Returns ErrConflict otherwise.
	UpdateAttempt(ctx context.Context, a *model.Attempt) error
	UpdateSession(ctx context.Context, s *model.TestSession) error
	// UpsertAnswer replaces any earlier answer for (attempt, question).
	UpsertAnswer(ctx context.Context, ans *model.StudentAnswer) error
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.StudentAnswer, error)
	// UpsertSnapshot writes the analytics snapshot keyed by attempt.
	UpsertSnapshot(ctx context.Context, snap *model.AnalyticsSnapshot) error
}
