package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPaper(t *testing.T) (*repository.MemoryStore, *model.Test) {
	t.Helper()
	store := repository.NewMemoryStore()
	test := &model.Test{
		Title: "Paper", DurationMinutes: 5, IsActive: true,
		Sections: []model.Section{
			{SectionType: "addition", Order: 1, Questions: []model.Question{
				{Text: "[1, 2]", Order: 1, Marks: 1, Type: model.QuestionTypePlus},
			}},
			{SectionType: "division", Order: 2, Questions: []model.Question{
				{Text: "[9, 4]", Order: 2, Marks: 2, Type: model.QuestionTypeDivide},
			}},
		},
	}
	require.NoError(t, store.CreateTest(context.Background(), test))
	return store, test
}

func TestPaperServiceWithoutCache(t *testing.T) {
	store, test := seedPaper(t)
	svc := NewPaperService(store, nil, config.NewPaperKeys(""), time.Minute, zerolog.Nop())

	paper, err := svc.GetPaper(context.Background(), test.ID)
	require.NoError(t, err)
	require.Len(t, paper.Sections, 2)
	assert.Equal(t, "[9, 4]", paper.Sections[1].Questions[0].Text)

	_, err = svc.GetPaper(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, svc.PrewarmAll(context.Background()))
	assert.NoError(t, svc.Invalidate(context.Background()))
}

func TestPaperServiceFallsBackWhenRedisIsDown(t *testing.T) {
	store, test := seedPaper(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	svc := NewPaperService(store, rdb, config.NewPaperKeys("test"), time.Minute, zerolog.Nop())

	paper, err := svc.GetPaper(context.Background(), test.ID)
	require.NoError(t, err)
	assert.Equal(t, test.ID, paper.ID)
	assert.Equal(t, 3, paper.TotalMarks())

	// Prewarm skips tests it cannot cache instead of failing.
	assert.NoError(t, svc.PrewarmAll(context.Background()))
}
