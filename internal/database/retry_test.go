package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingWithRetryRecovers(t *testing.T) {
	calls := 0
	err := pingWithRetry(context.Background(), zerolog.Nop(), "fake", time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPingWithRetryGivesUp(t *testing.T) {
	calls := 0
	down := errors.New("connection refused")
	err := pingWithRetry(context.Background(), zerolog.Nop(), "fake", time.Millisecond, func(context.Context) error {
		calls++
		return down
	})
	require.ErrorIs(t, err, down)
	assert.Equal(t, connectAttempts, calls)
}

func TestPingWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := pingWithRetry(ctx, zerolog.Nop(), "fake", time.Hour, func(context.Context) error {
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedisDisabledWithoutURL(t *testing.T) {
	rdb, err := NewRedisClient(context.Background(), &config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, rdb)
}
