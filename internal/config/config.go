// Package config reads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const prefix = "SWITCHBOARD_"

// Config is the complete service configuration.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	// RedisURL enables the rule-set cache when set.
	RedisURL string
	// KafkaBrokers enables journal fan-out when set.
	KafkaBrokers []string
	KafkaTopic   string

	AuthSecret string
	TokenTTL   time.Duration
	APIPrefix  string

	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64

	BuiltinAdmin    string
	PasswordHistory int
	BcryptCost      int
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a Config from lookup. All problems are reported together.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}
	cfg := &Config{
		Env:             r.str("ENV", "production"),
		LogLevel:        r.str("LOG_LEVEL", "info"),
		HTTPAddr:        r.str("HTTP_ADDR", ":8080"),
		GRPCAddr:        r.str("GRPC_ADDR", ":9090"),
		PGDSN:           r.required("PG_DSN"),
		RedisURL:        r.str("REDIS_URL", ""),
		KafkaBrokers:    r.list("KAFKA_BROKERS"),
		KafkaTopic:      r.str("KAFKA_TOPIC", "switchboard.journal"),
		AuthSecret:      r.required("AUTH_SECRET"),
		TokenTTL:        r.duration("TOKEN_TTL", time.Hour),
		APIPrefix:       "/" + strings.Trim(r.str("API_PREFIX", "/v1"), "/"),
		RateBurst:       r.int("RATE_BURST", 20),
		RatePerSec:      r.float("RATE_PER_SEC", 10),
		MaxBodyBytes:    int64(r.int("MAX_BODY_BYTES", 1<<20)),
		BuiltinAdmin:    r.str("BUILTIN_ADMIN", "administrator"),
		PasswordHistory: r.int("PASSWORD_HISTORY", 12),
		BcryptCost:      r.int("BCRYPT_COST", 13),
	}
	if cfg.APIPrefix == "/" {
		cfg.APIPrefix = ""
	}
	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Development reports whether the service runs in development mode.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

var errMissing = errors.New("required variable is not set")

type reader struct {
	lookup func(string) (string, bool)
	errs   *multierror.Error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(prefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) fail(key string, err error) {
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
}

func (r *reader) str(key, def string) string {
	if v, ok := r.get(key); ok {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v, ok := r.get(key)
	if !ok {
		r.fail(key, errMissing)
	}
	return v
}

func (r *reader) list(key string) []string {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) int(key string, def int) int {
	v, ok := r.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.fail(key, fmt.Errorf("invalid integer %q", v))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.get(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		r.fail(key, fmt.Errorf("invalid number %q", v))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(key, fmt.Errorf("invalid duration %q", v))
		return def
	}
	return d
}
