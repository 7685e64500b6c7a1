package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strutil "provenance/pkg/platform/strings"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration.
type Server struct {
	Addr           string
	LogLevel       string
	RequestTimeout time.Duration
	JWT            JWTConfig
	Registry       RegistryConfig
	Ledger         LedgerConfig
	Scan           ScanConfig
	Redis          RedisConfig
	ExistsCacheTTL time.Duration
	DatabaseURL    string
	Kafka          KafkaConfig
	RateLimit      RateLimitConfig
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

type RegistryConfig struct {
	FinalityTimeout  time.Duration
	ViewMaxRetries   uint64
	ViewRetryInitial time.Duration
	ReadTimeout      time.Duration
	OwnershipCheck   bool
}

type LedgerConfig struct {
	FinalityDelay time.Duration
}

type ScanConfig struct {
	AppURL string
}

// RedisConfig is empty when Redis is not configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig holds per-minute budgets. Zero keeps the default.
type RateLimitConfig struct {
	Disabled       bool
	ReadPerMinute  int
	ScanPerMinute  int
	WritePerMinute int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (Server, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var p parser
	cfg := Server{
		Addr:           p.str("PROVENANCE_ADDR", ":8080"),
		LogLevel:       p.str("LOG_LEVEL", "info"),
		RequestTimeout: p.duration("REQUEST_TIMEOUT", 45*time.Second),
		JWT: JWTConfig{
			SigningKey: p.str("JWT_SIGNING_KEY", devSigningKey),
			Issuer:     p.str("JWT_ISSUER", "provenance"),
			Audience:   p.str("JWT_AUDIENCE", "provenance-api"),
		},
		Registry: RegistryConfig{
			FinalityTimeout:  p.duration("FINALITY_TIMEOUT", 30*time.Second),
			ViewMaxRetries:   p.uint("VIEW_MAX_RETRIES", 3),
			ViewRetryInitial: p.duration("VIEW_RETRY_INITIAL", 100*time.Millisecond),
			ReadTimeout:      p.duration("LEDGER_READ_TIMEOUT", 10*time.Second),
			OwnershipCheck:   p.bool("OWNERSHIP_PRECHECK", false),
		},
		Ledger: LedgerConfig{
			FinalityDelay: p.duration("LEDGER_FINALITY_DELAY", 0),
		},
		Scan: ScanConfig{
			AppURL: p.str("SCAN_APP_URL", ""),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     int(p.uint("REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(p.uint("REDIS_MIN_IDLE_CONNS", 2)),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		ExistsCacheTTL: p.duration("EXISTS_CACHE_TTL", 10*time.Minute),
		DatabaseURL:    p.str("DATABASE_URL", ""),
		Kafka: KafkaConfig{
			Brokers: p.list("KAFKA_BROKERS"),
			Topic:   p.str("KAFKA_TOPIC", "provenance.events"),
		},
		RateLimit: RateLimitConfig{
			Disabled:       p.bool("RATE_LIMIT_DISABLED", false),
			ReadPerMinute:  int(p.uint("RATE_LIMIT_READ_PER_MINUTE", 0)),
			ScanPerMinute:  int(p.uint("RATE_LIMIT_SCAN_PER_MINUTE", 0)),
			WritePerMinute: int(p.uint("RATE_LIMIT_WRITE_PER_MINUTE", 0)),
		},
	}
	if p.err != nil {
		return Server{}, p.err
	}
	if cfg.Registry.FinalityTimeout <= 0 {
		return Server{}, errors.New("FINALITY_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.Registry.FinalityTimeout {
		return Server{}, errors.New("REQUEST_TIMEOUT must exceed FINALITY_TIMEOUT")
	}
	return cfg, nil
}

// UsesDevSigningKey reports whether JWT_SIGNING_KEY was left at its default.
func (s Server) UsesDevSigningKey() bool {
	return s.JWT.SigningKey == devSigningKey
}

// parser records the first malformed variable and keeps returning defaults.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) uint(key string, def uint64) uint64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) list(key string) []string {
	return strutil.SplitList(p.str(key, ""))
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
