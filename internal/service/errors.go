package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid attempt state transition")
	ErrTestExpired       = errors.New("test time has expired")
	ErrDuplicateAttempt  = errors.New("an unfinished attempt already exists for this test")
	ErrInvalidExtension  = errors.New("extension must be a positive duration")
	ErrNotCompleted      = errors.New("attempt is not completed")
	ErrConflict          = errors.New("attempt was modified concurrently, try again")
	ErrTestUnavailable   = errors.New("test is not accepting attempts")
	ErrNotOwner          = errors.New("attempt belongs to another student")
)
