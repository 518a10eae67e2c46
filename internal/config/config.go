// Package config reads server settings from flags, each defaulting to an
// environment variable.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const DevSessionSecret = "banter-dev-secret-change-me"

type Config struct {
	Addr        string
	DBDriver    string
	DatabaseURL string
	MongoDB     string
	RedisURL    string

	SessionSecret string
	SessionTTL    time.Duration

	VoiceDir      string
	MaxVoiceBytes int64

	StoreTimeout     time.Duration
	BroadcastTimeout time.Duration
}

func Load(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("banter", flag.ContinueOnError)

	addr := envOrDefault("ADDR", "")
	if addr == "" {
		addr = ":" + envOrDefault("PORT", "8080")
	}
	fs.StringVar(&cfg.Addr, "addr", addr, "http service address")
	fs.StringVar(&cfg.DBDriver, "db-driver", envOrDefault("DB_DRIVER", "sqlite3"), "sqlite3, postgres or mongo")
	fs.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "store connection string")
	fs.StringVar(&cfg.MongoDB, "mongo-db", envOrDefault("MONGO_DB", "banter"), "MongoDB database name")
	fs.StringVar(&cfg.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL for multi-node fan-out, empty for a single node")
	fs.StringVar(&cfg.SessionSecret, "session-secret", envOrDefault("SESSION_SECRET", DevSessionSecret), "HMAC key for session cookies")
	fs.StringVar(&cfg.VoiceDir, "voice-dir", envOrDefault("VOICE_DIR", "voices"), "directory for voice clips")

	var err error
	durations := []struct {
		dst      *time.Duration
		flag     string
		env      string
		fallback time.Duration
		usage    string
	}{
		{&cfg.SessionTTL, "session-ttl", "SESSION_TTL", 7 * 24 * time.Hour, "session cookie lifetime"},
		{&cfg.StoreTimeout, "store-timeout", "STORE_TIMEOUT", 5 * time.Second, "bound on each store call"},
		{&cfg.BroadcastTimeout, "broadcast-timeout", "BROADCAST_TIMEOUT", 2 * time.Second, "bound on each publish"},
	}
	for _, d := range durations {
		def := d.fallback
		if v := os.Getenv(d.env); v != "" {
			if def, err = time.ParseDuration(v); err != nil {
				return Config{}, fmt.Errorf("%s: %w", d.env, err)
			}
		}
		fs.DurationVar(d.dst, d.flag, def, d.usage)
	}

	maxVoice := int64(10 << 20)
	if v := os.Getenv("MAX_VOICE_BYTES"); v != "" {
		if maxVoice, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("MAX_VOICE_BYTES: %w", err)
		}
	}
	fs.Int64Var(&cfg.MaxVoiceBytes, "max-voice-bytes", maxVoice, "largest accepted voice clip")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	switch cfg.DBDriver {
	case "sqlite3", "postgres", "mongo":
	default:
		return Config{}, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL(cfg.DBDriver)
	}
	return cfg, nil
}

func defaultDatabaseURL(driver string) string {
	switch driver {
	case "postgres":
		return "user=banter password=banter dbname=banter sslmode=disable host=localhost port=5432"
	case "mongo":
		return "mongodb://localhost:27017"
	}
	return "banter.db"
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
