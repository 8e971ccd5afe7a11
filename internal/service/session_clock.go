package service

import (
	"fmt"
	"math"
	"time"

	"github.com/stemsi/testengine/internal/clock"
	"github.com/stemsi/testengine/internal/model"
)

// SessionClock computes the authoritative countdown of an attempt.
//
// The stored session keeps a budget (remaining seconds at the last anchor)
// and the attempt keeps the anchor itself in StartTime. Remaining time is
// always derived from those two and the current time, never decremented in
// place, so repeated resyncs are idempotent.
type SessionClock struct {
	clock clock.Clock
}

// NewSessionClock creates a SessionClock reading time from c.
func NewSessionClock(c clock.Clock) *SessionClock {
	return &SessionClock{clock: c}
}

// Initialize resets s to a full budget of totalSeconds.
func (c *SessionClock) Initialize(s *model.TestSession, totalSeconds int) {
	s.RemainingTimeSeconds = totalSeconds
	s.BudgetSeconds = totalSeconds
	s.LastSync = c.clock.Now()
}

// Resync recomputes remaining time from the anchor and returns it.
func (c *SessionClock) Resync(s *model.TestSession, anchor time.Time) int {
	now := c.clock.Now()
	elapsed := int(now.Sub(anchor) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := s.BudgetSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	s.RemainingTimeSeconds = remaining
	s.LastSync = now
	return remaining
}

// Reanchor makes the current remaining time the new budget. Callers move
// the attempt's StartTime to the returned instant.
func (c *SessionClock) Reanchor(s *model.TestSession) time.Time {
	now := c.clock.Now()
	s.BudgetSeconds = s.RemainingTimeSeconds
	s.LastSync = now
	return now
}

// Extension limits. A single grant is at most a week, and a session never
// holds more seconds than the INTEGER columns storing it.
const (
	MaxExtensionMinutes = 7 * 24 * 60
	MaxBudgetSeconds    = math.MaxInt32
)

// Extend adds additionalSeconds to both the remaining time and the budget.
func (c *SessionClock) Extend(s *model.TestSession, additionalSeconds int) (int, error) {
	if additionalSeconds <= 0 || additionalSeconds > MaxExtensionMinutes*60 {
		return s.RemainingTimeSeconds, fmt.Errorf("%w: %d seconds", ErrInvalidExtension, additionalSeconds)
	}
	if s.BudgetSeconds > MaxBudgetSeconds-additionalSeconds {
		return s.RemainingTimeSeconds, fmt.Errorf("%w: budget would exceed %d seconds", ErrInvalidExtension, MaxBudgetSeconds)
	}
	s.RemainingTimeSeconds += additionalSeconds
	s.BudgetSeconds += additionalSeconds
	return s.RemainingTimeSeconds, nil
}
