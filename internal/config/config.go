package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the configuration settings for the application.
type Config struct {
	AppPort  string `env:"APP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisAddrs []string `env:"REDIS_ADDR" envDefault:"localhost:6379" envSeparator:","`
	RedisPass  string   `env:"REDIS_PASS"`
	RedisDB    int      `env:"REDIS_DB" envDefault:"0"`

	// Archiving is off when MinioEndpoint is empty.
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"mythicplus-runs"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	HostAPIEndpoint string        `env:"HOST_API_ENDPOINT" envDefault:"http://127.0.0.1:7070"`
	HostAPIKey      string        `env:"HOST_API_KEY"`
	HostAPITimeout  time.Duration `env:"HOST_API_TIMEOUT" envDefault:"5s"`

	// Peer sync is off when PeerRelayURL is empty.
	PeerRelayURL string `env:"PEER_RELAY_URL"`
	PeerChannel  string `env:"PEER_CHANNEL" envDefault:"LibMythicPlus"`
	RelayEnabled bool   `env:"RELAY_ENABLED" envDefault:"false"`
	PartyID      string `env:"PARTY_ID"`
	GuildID      string `env:"GUILD_ID"`

	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"1250ms"`
	RetryJitter    float64       `env:"RETRY_JITTER" envDefault:"0.2"`
	RetryCeiling   int           `env:"RETRY_CEILING" envDefault:"5"`
	ZoneDebounce   time.Duration `env:"ZONE_DEBOUNCE" envDefault:"2s"`
	InspectTimeout time.Duration `env:"INSPECT_TIMEOUT" envDefault:"5s"`

	InstanceResetPattern string `env:"INSTANCE_RESET_PATTERN" envDefault:"^(.+) has been reset\\.$"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter >= 1 {
		return nil, fmt.Errorf("config: RETRY_JITTER must be in [0, 1), got %v", cfg.RetryJitter)
	}
	if cfg.RetryCeiling < 1 {
		return nil, fmt.Errorf("config: RETRY_CEILING must be positive, got %d", cfg.RetryCeiling)
	}
	return cfg, nil
}
