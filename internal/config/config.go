package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string // HOOKD_DATABASE_URL (required)
	HTTPAddr    string // HOOKD_HTTP_ADDR (default ":8080")
	GRPCAddr    string // HOOKD_GRPC_ADDR (default ":9090"; "off" disables)
	NATSURL     string // HOOKD_NATS_URL (optional, empty = poll only)
	RedisURL    string // HOOKD_REDIS_URL (optional, enables the KPI cache)
	AuthToken   string // HOOKD_AUTH_TOKEN (optional, empty = auth disabled)
	DevIngress  bool   // HOOKD_DEV_INGRESS (default false)
	LogMode     string // HOOKD_LOG_MODE (default "production")
	LogLevel    string // HOOKD_LOG_LEVEL (default "info")

	// Delivery
	Workers        int           // HOOKD_WORKERS (default 4)
	ClaimBatch     int           // HOOKD_CLAIM_BATCH (default 10)
	PollInterval   time.Duration // HOOKD_POLL_INTERVAL (default 500ms)
	PausePollDelay time.Duration // HOOKD_PAUSE_POLL_DELAY (default 30s)
	RequestTimeout time.Duration // HOOKD_REQUEST_TIMEOUT (default 5s)
	BackoffBase    time.Duration // HOOKD_BACKOFF_BASE (default 1s)
	BackoffMax     time.Duration // HOOKD_BACKOFF_MAX (default 1h)
	BackoffJitter  float64       // HOOKD_BACKOFF_JITTER (default 0.2)
	MaxAttempts    int           // HOOKD_MAX_ATTEMPTS (default 12)
	StaleAfter     time.Duration // HOOKD_STALE_AFTER (default 5m)
	ReaperInterval time.Duration // HOOKD_REAPER_INTERVAL (default 1m)

	// Enqueuer
	EnqueueInterval time.Duration // HOOKD_ENQUEUE_INTERVAL (default 1s)
	EnqueueBatch    int           // HOOKD_ENQUEUE_BATCH (default 500)

	CacheTTL time.Duration // HOOKD_CACHE_TTL (default 15s)

	// Archive settings
	ArchiveInterval   time.Duration // HOOKD_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveS3Bucket   string        // HOOKD_ARCHIVE_S3_BUCKET (enables the archive when set)
	ArchiveS3Endpoint string        // HOOKD_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // HOOKD_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // HOOKD_ARCHIVE_S3_PREFIX (default "hookd/events")
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first, and HOOKD_CONFIG_FILE may name a TOML
// file whose keys (lowercase, without the prefix) supply defaults that the
// environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	file, err := readFile(os.Getenv("HOOKD_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	p := &parser{file: file}

	c := &Config{
		DatabaseURL: p.str("HOOKD_DATABASE_URL", ""),
		HTTPAddr:    p.str("HOOKD_HTTP_ADDR", ":8080"),
		GRPCAddr:    p.str("HOOKD_GRPC_ADDR", ":9090"),
		NATSURL:     p.str("HOOKD_NATS_URL", ""),
		RedisURL:    p.str("HOOKD_REDIS_URL", ""),
		AuthToken:   p.str("HOOKD_AUTH_TOKEN", ""),
		DevIngress:  p.bool("HOOKD_DEV_INGRESS", false),
		LogMode:     p.str("HOOKD_LOG_MODE", "production"),
		LogLevel:    p.str("HOOKD_LOG_LEVEL", "info"),

		Workers:        p.int("HOOKD_WORKERS", 4),
		ClaimBatch:     p.int("HOOKD_CLAIM_BATCH", 10),
		PollInterval:   p.duration("HOOKD_POLL_INTERVAL", 500*time.Millisecond),
		PausePollDelay: p.duration("HOOKD_PAUSE_POLL_DELAY", 30*time.Second),
		RequestTimeout: p.duration("HOOKD_REQUEST_TIMEOUT", 5*time.Second),
		BackoffBase:    p.duration("HOOKD_BACKOFF_BASE", time.Second),
		BackoffMax:     p.duration("HOOKD_BACKOFF_MAX", time.Hour),
		BackoffJitter:  p.float("HOOKD_BACKOFF_JITTER", 0.2),
		MaxAttempts:    p.int("HOOKD_MAX_ATTEMPTS", 12),
		StaleAfter:     p.duration("HOOKD_STALE_AFTER", 5*time.Minute),
		ReaperInterval: p.duration("HOOKD_REAPER_INTERVAL", time.Minute),

		EnqueueInterval: p.duration("HOOKD_ENQUEUE_INTERVAL", time.Second),
		EnqueueBatch:    p.int("HOOKD_ENQUEUE_BATCH", 500),

		CacheTTL: p.duration("HOOKD_CACHE_TTL", 15*time.Second),

		ArchiveInterval:   p.duration("HOOKD_ARCHIVE_INTERVAL", 10*time.Minute),
		ArchiveS3Bucket:   p.str("HOOKD_ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Endpoint: p.str("HOOKD_ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3Region:   p.str("HOOKD_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   p.str("HOOKD_ARCHIVE_S3_PREFIX", "hookd/events"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadClient reads only what CLI subcommands that talk to a running server
// need.
func LoadClient() (addr, token string) {
	_ = godotenv.Load()
	return envOrDefault("HOOKD_SERVER", "http://localhost:8080"), os.Getenv("HOOKD_AUTH_TOKEN")
}

// ArchiveEnabled reports whether the event archive should run.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != "" && c.ArchiveInterval > 0
}

// GRPCEnabled reports whether the health service should listen.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCAddr != "" && c.GRPCAddr != "off"
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("HOOKD_DATABASE_URL is required"))
	}
	for key, v := range map[string]int{
		"HOOKD_WORKERS":       c.Workers,
		"HOOKD_CLAIM_BATCH":   c.ClaimBatch,
		"HOOKD_MAX_ATTEMPTS":  c.MaxAttempts,
		"HOOKD_ENQUEUE_BATCH": c.EnqueueBatch,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", key))
		}
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		errs = append(errs, errors.New("HOOKD_BACKOFF_JITTER must be in [0, 1]"))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, errors.New("HOOKD_BACKOFF_MAX must be at least HOOKD_BACKOFF_BASE"))
	}
	// A worker sends its batch one item at a time, so the last claim in a
	// batch can wait for every request ahead of it.
	if batchTime := time.Duration(c.ClaimBatch) * c.RequestTimeout; c.StaleAfter <= batchTime {
		errs = append(errs, fmt.Errorf(
			"HOOKD_STALE_AFTER (%s) must exceed HOOKD_CLAIM_BATCH * HOOKD_REQUEST_TIMEOUT (%s)", c.StaleAfter, batchTime))
	}
	return errors.Join(errs...)
}

// readFile decodes a flat TOML file into string values keyed by lowercase
// name.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("HOOKD_CONFIG_FILE: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			out[strings.ToLower(k)] = v
		case int64, float64, bool:
			out[strings.ToLower(k)] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("HOOKD_CONFIG_FILE: %s: unsupported value %T", k, v)
		}
	}
	return out, nil
}

// parser resolves keys from the environment, then the file, then the
// default. The first parse error is kept.
type parser struct {
	file map[string]string
	err  error
}

func (p *parser) lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	v, ok := p.file[strings.ToLower(strings.TrimPrefix(key, "HOOKD_"))]
	return v, ok && v != ""
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (p *parser) str(key, fallback string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
