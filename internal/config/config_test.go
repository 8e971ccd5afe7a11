package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, parseOrigins(" http://a.test, ,http://b.test "))
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PAPER_CACHE_TTL_MINUTES", "5")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.PaperCacheTTL)
	assert.Equal(t, 2.5, cfg.RateLimitPerSec)
	assert.Equal(t, int32(16), cfg.MaxDBConns)
}

func TestPaperKeys(t *testing.T) {
	id := uuid.MustParse("6f1c2b8e-3d4a-4f5b-9c7d-0e1f2a3b4c5d")

	plain := NewPaperKeys("")
	assert.Equal(t, "test:6f1c2b8e-3d4a-4f5b-9c7d-0e1f2a3b4c5d:paper", plain.Paper(id))
	assert.Equal(t, "test:*:paper", plain.Pattern())

	staging := NewPaperKeys("staging")
	assert.Equal(t, "staging:test:6f1c2b8e-3d4a-4f5b-9c7d-0e1f2a3b4c5d:paper", staging.Paper(id))
	assert.Equal(t, "staging:test:*:paper", staging.Pattern())
}
