package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/model"
)

// PaperSource is the subset of the store the paper cache reads from.
type PaperSource interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListActiveTestIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PaperService serves rendered test papers through a Redis read-through
// cache. A nil Redis client disables caching.
type PaperService struct {
	source PaperSource
	rdb    *redis.Client
	keys   config.PaperKeys
	ttl    time.Duration
	log    zerolog.Logger
}

// NewPaperService creates a new PaperService.
func NewPaperService(source PaperSource, rdb *redis.Client, keys config.PaperKeys, ttl time.Duration, log zerolog.Logger) *PaperService {
	return &PaperService{
		source: source,
		rdb:    rdb,
		keys:   keys,
		ttl:    ttl,
		log:    log.With().Str("component", "paper_cache").Logger(),
	}
}

// GetPaper returns a test with its ordered sections and questions.
// Cache failures are logged and fall back to the store.
func (s *PaperService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, s.keys.Paper(testID)).Bytes()
		switch {
		case err == nil:
			var paper model.Test
			if err := json.Unmarshal(data, &paper); err == nil {
				return &paper, nil
			}
			s.log.Warn().Str("test_id", testID.String()).Msg("Corrupt cached paper, reloading")
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Paper cache read failed")
		}
	}

	test, err := s.source.GetTest(ctx, testID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if err := s.Warm(ctx, test); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Paper cache write failed")
	}
	return test, nil
}

// Warm stores a paper in the cache.
func (s *PaperService) Warm(ctx context.Context, test *model.Test) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(test)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keys.Paper(test.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache paper: %w", err)
	}
	s.log.Debug().
		Str("test_id", test.ID.String()).
		Int("questions", len(test.Questions())).
		Msg("Paper cached")
	return nil
}

// PrewarmAll caches every active test. Individual failures are skipped.
func (s *PaperService) PrewarmAll(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ids, err := s.source.ListActiveTestIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active tests: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No active tests to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		test, err := s.source.GetTest(ctx, id)
		if err == nil {
			err = s.Warm(ctx, test)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to warm paper, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// Invalidate drops every cached paper.
func (s *PaperService) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	iter := s.rdb.Scan(ctx, 0, s.keys.Pattern(), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan paper keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}
