package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	HTTPAddr string

	DatabaseURL    string
	MigrateOnStart bool
	RedisURL       string

	JWTSecret string

	SessionTTL           time.Duration
	SessionGrace         time.Duration
	SessionSweepInterval time.Duration
	TimeoutSweepInterval time.Duration

	WSSendBuffer     int
	WSWriteTimeout   time.Duration
	WSOriginPatterns []string

	FinalizeWebhookURL  string
	OutboxRetryInterval time.Duration

	MessagesDir    string
	PuzzleSeedFile string

	// Time controls accepted by matchmaking; empty means the built-in catalog.
	TimeControls []string
}

// fileOverlay is the optional YAML file named by ARENA_CONFIG_FILE.
type fileOverlay struct {
	HTTPAddr     string   `yaml:"http_addr"`
	MessagesDir  string   `yaml:"messages_dir"`
	TimeControls []string `yaml:"time_controls"`
	Session      struct {
		TTL   string `yaml:"ttl"`
		Grace string `yaml:"grace"`
	} `yaml:"session"`
}

// Load reads .env (if present), the environment, and then the YAML overlay.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:      strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		MessagesDir:    strings.TrimSpace(os.Getenv("MESSAGES_DIR")),
		MigrateOnStart: true,
	}
	cfg.FinalizeWebhookURL = strings.TrimSpace(os.Getenv("FINALIZE_WEBHOOK_URL"))
	cfg.PuzzleSeedFile = strings.TrimSpace(os.Getenv("PUZZLE_SEED_FILE"))
	cfg.WSOriginPatterns = splitList(os.Getenv("WS_ORIGIN_PATTERNS"))

	var err error
	if cfg.MigrateOnStart, err = getEnvBool("MIGRATE_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionGrace, err = getEnvDuration("SESSION_GRACE", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionSweepInterval, err = getEnvDuration("SESSION_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.TimeoutSweepInterval, err = getEnvDuration("TIMEOUT_SWEEP_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.WSWriteTimeout, err = getEnvDuration("WS_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxRetryInterval, err = getEnvDuration("OUTBOX_RETRY_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WSSendBuffer, err = getEnvInt("WS_SEND_BUFFER", 32); err != nil {
		return nil, err
	}
	if cfg.WSSendBuffer <= 0 {
		return nil, errors.New("WS_SEND_BUFFER must be positive")
	}

	if path := strings.TrimSpace(os.Getenv("ARENA_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if v := strings.TrimSpace(overlay.HTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	if v := strings.TrimSpace(overlay.MessagesDir); v != "" {
		c.MessagesDir = v
	}
	for _, tc := range overlay.TimeControls {
		if s := strings.TrimSpace(tc); s != "" {
			c.TimeControls = append(c.TimeControls, s)
		}
	}
	if v := strings.TrimSpace(overlay.Session.TTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("session.ttl: %w", err)
		}
		c.SessionTTL = d
	}
	if v := strings.TrimSpace(overlay.Session.Grace); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("session.grace: %w", err)
		}
		c.SessionGrace = d
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
