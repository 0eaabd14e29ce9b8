package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL"`
	RedisURL               string `env:"REDIS_URL"`
	BotAPISecret           string `env:"BOT_API_SECRET,required"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	TokenTTLDays           int    `env:"TOKEN_TTL_DAYS" envDefault:"30"`
	SnapshotGraceSeconds   int    `env:"SNAPSHOT_GRACE_SECONDS" envDefault:"180"`
	HandshakeTimeoutSecs   int    `env:"HANDSHAKE_TIMEOUT_SECONDS" envDefault:"10"`
	IdleTimeoutSeconds     int    `env:"IDLE_TIMEOUT_SECONDS" envDefault:"120"`
	AudioQueueDepth        int    `env:"AUDIO_QUEUE_DEPTH" envDefault:"32"`
	TipHistorySize         int    `env:"TIP_HISTORY_SIZE" envDefault:"5"`
	AnalyzerURL            string `env:"ANALYZER_URL"`
	RendererURL            string `env:"RENDERER_URL"`
	CommandRateLimitPerMin int    `env:"COMMAND_RATE_LIMIT_PER_MIN" envDefault:"60"`
	DefaultCoachName       string `env:"DEFAULT_COACH_NAME" envDefault:"Treinador Virtual"`
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

func (c *Config) SnapshotGrace() time.Duration {
	return time.Duration(c.SnapshotGraceSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecs) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.TokenTTLDays <= 0 {
		return fmt.Errorf("TOKEN_TTL_DAYS must be positive")
	}
	if c.TipHistorySize <= 0 {
		return fmt.Errorf("TIP_HISTORY_SIZE must be positive")
	}
	if c.AudioQueueDepth < 0 {
		return fmt.Errorf("AUDIO_QUEUE_DEPTH must be zero (unbounded) or positive")
	}
	if c.HandshakeTimeoutSecs <= 0 || c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT_SECONDS and IDLE_TIMEOUT_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("BOT_API_SECRET", c.BotAPISecret); err != nil {
			return err
		}

		if c.DatabaseURL == "" {
			log.Warn().Msg("DATABASE_URL is empty in production: tokens will not survive a restart")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.AnalyzerURL == "" {
			log.Warn().Msg("ANALYZER_URL is empty in production: ask and postgame will answer with apologies")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
