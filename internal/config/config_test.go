package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("TokenTTL converts days to duration", func(t *testing.T) {
		cfg := &Config{TokenTTLDays: 30}
		assert.Equal(t, 30*24*time.Hour, cfg.TokenTTL())
	})

	t.Run("SnapshotGrace converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SnapshotGraceSeconds: 180}
		assert.Equal(t, 3*time.Minute, cfg.SnapshotGrace())
	})

	t.Run("connection timeouts convert seconds to duration", func(t *testing.T) {
		cfg := &Config{HandshakeTimeoutSecs: 10, IdleTimeoutSeconds: 120}
		assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout())
		assert.Equal(t, 2*time.Minute, cfg.IdleTimeout())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BotAPISecret:         "0123456789abcdef0123456789abcdef",
			TokenTTLDays:         30,
			TipHistorySize:       5,
			AudioQueueDepth:      32,
			HandshakeTimeoutSecs: 10,
			IdleTimeoutSeconds:   120,
		}
	}

	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate(true))
	})

	t.Run("rejects short secret in production", func(t *testing.T) {
		cfg := valid()
		cfg.BotAPISecret = "secret"
		assert.Error(t, cfg.Validate(true))
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive tip history", func(t *testing.T) {
		cfg := valid()
		cfg.TipHistorySize = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("allows unbounded audio queue", func(t *testing.T) {
		cfg := valid()
		cfg.AudioQueueDepth = 0
		assert.NoError(t, cfg.Validate(false))

		cfg.AudioQueueDepth = -1
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "BOT_API_SECRET", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL",
		"TOKEN_TTL_DAYS", "SNAPSHOT_GRACE_SECONDS", "AUDIO_QUEUE_DEPTH", "TIP_HISTORY_SIZE",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("BOT_API_SECRET", "test-secret")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "", cfg.DatabaseURL)
		assert.Equal(t, "", cfg.RedisURL)
		assert.Equal(t, 30, cfg.TokenTTLDays)
		assert.Equal(t, 180, cfg.SnapshotGraceSeconds)
		assert.Equal(t, 32, cfg.AudioQueueDepth)
		assert.Equal(t, 5, cfg.TipHistorySize)
		assert.Equal(t, "Treinador Virtual", cfg.DefaultCoachName)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("BOT_API_SECRET", "test-secret")
		os.Setenv("PORT", "3000")
		os.Setenv("SNAPSHOT_GRACE_SECONDS", "60")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 60, cfg.SnapshotGraceSeconds)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required BOT_API_SECRET", func(t *testing.T) {
		os.Unsetenv("BOT_API_SECRET")

		_, err := Load()
		assert.Error(t, err)
	})
}
