package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig captures Redis connection tuning for the QR token store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config captures everything the server needs from the environment so main
// stays lean. Unset optional backends (Postgres, Redis, Kafka, S3) fall back
// to in-process implementations suitable for development.
type Config struct {
	Addr          string
	PostgresURL   string
	Redis         RedisConfig
	KafkaBrokers  []string
	KafkaTopic    string
	S3Bucket      string
	S3Prefix      string
	JWTSigningKey string

	// DisputeGrace is how long after finalization a dispute may still be
	// filed. Kept configurable rather than hard-coded; legal review owns
	// the number.
	DisputeGrace time.Duration

	// SweepInterval is how often the auto-close sweep scans for expired
	// windows; SweepBatchSize bounds one pass.
	SweepInterval  time.Duration
	SweepBatchSize int
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("HANDOFF_ADDR", ":8080"),
		PostgresURL:    os.Getenv("HANDOFF_POSTGRES_URL"),
		KafkaTopic:     envOr("HANDOFF_KAFKA_TOPIC", "handoff.exchange-events"),
		S3Bucket:       os.Getenv("HANDOFF_S3_BUCKET"),
		S3Prefix:       envOr("HANDOFF_S3_PREFIX", "evidence"),
		JWTSigningKey:  envOr("HANDOFF_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DisputeGrace:   envDurationOr("HANDOFF_DISPUTE_GRACE", 72*time.Hour),
		SweepInterval:  envDurationOr("HANDOFF_SWEEP_INTERVAL", 30*time.Second),
		SweepBatchSize: envIntOr("HANDOFF_SWEEP_BATCH_SIZE", 100),
	}

	if brokers := os.Getenv("HANDOFF_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("HANDOFF_REDIS_URL"),
		PoolSize:     envIntOr("HANDOFF_REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("HANDOFF_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDurationOr("HANDOFF_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDurationOr("HANDOFF_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDurationOr("HANDOFF_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
