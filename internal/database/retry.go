package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
	pingTimeout     = 3 * time.Second
)

// pingWithRetry pings a freshly opened backend until it answers, doubling
// the wait between tries. Gives up after connectAttempts or when ctx ends.
func pingWithRetry(ctx context.Context, log zerolog.Logger, name string, backoff time.Duration, ping func(context.Context) error) error {
	var (
		attempt int
		lastErr error
	)
	steps := wait.Backoff{Duration: backoff, Factor: 2, Steps: connectAttempts}

	err := wait.ExponentialBackoffWithContext(ctx, steps, func(ctx context.Context) (bool, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if lastErr = ping(pingCtx); lastErr != nil {
			log.Warn().Err(lastErr).
				Str("backend", name).
				Int("attempt", attempt).
				Msg("Backend not ready")
			return false, nil
		}
		return true, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("ping %s: %w", name, err)
	case lastErr != nil:
		return fmt.Errorf("ping %s after %d attempts: %w", name, attempt, lastErr)
	default:
		return fmt.Errorf("ping %s: %w", name, err)
	}
}
