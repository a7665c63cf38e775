package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Ledger LedgerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing; zero keeps the driver defaults from pkg/utils.
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// LedgerConfig tunes the approval engine.
type LedgerConfig struct {
	// CommissionMode is "deducted" (commission kept by the platform) or
	// "referral" (commission credited to the tenant's agency wallet).
	CommissionMode string

	// DefaultCommissionRate is a percentage used when a tenant has no scheduled rate.
	DefaultCommissionRate decimal.Decimal

	// MaxRetries bounds transparent re-runs after a concurrency conflict.
	MaxRetries int

	BalanceCacheTTL time.Duration
	IdempotencyTTL  time.Duration
}

func Load() (Config, error) {
	var c Config
	env := &envReader{}

	c.App.Env = env.str("APP_ENV")
	c.App.Port = env.requiredInt("APP_PORT")

	c.DB.Host = env.str("DB_HOST")
	c.DB.Port = env.requiredInt("DB_PORT")
	c.DB.User = env.str("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = env.str("DB_NAME")
	c.DB.SSLMode = env.str("DB_SSLMODE")
	c.DB.MaxOpenConns = env.optionalInt("DB_MAX_OPEN_CONNS")
	c.DB.MaxIdleConns = env.optionalInt("DB_MAX_IDLE_CONNS")

	c.Redis.Host = env.str("REDIS_HOST")
	c.Redis.Port = env.requiredInt("REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = env.optionalInt("REDIS_DB")
	c.Redis.PoolSize = env.optionalInt("REDIS_POOL_SIZE")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = env.str("JWT_ISSUER")
	c.Auth.JWTAudience = env.str("JWT_AUDIENCE")
	// Unset durations stay zero; Validate picks the defaults.
	c.Auth.AccessTokenTTL = env.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = env.duration("JWT_REFRESH_TTL")

	c.Ledger.CommissionMode = env.str("LEDGER_COMMISSION_MODE")
	c.Ledger.DefaultCommissionRate = env.decimal("LEDGER_DEFAULT_COMMISSION_RATE")
	c.Ledger.MaxRetries = env.optionalInt("LEDGER_MAX_RETRIES")
	c.Ledger.BalanceCacheTTL = env.duration("LEDGER_BALANCE_CACHE_TTL")
	c.Ledger.IdempotencyTTL = env.duration("LEDGER_IDEMPOTENCY_TTL")

	if err := joinErrors(env.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field and fills local-friendly defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be within 0..15, got %d", c.Redis.DB))
	}
	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 || c.Redis.PoolSize < 0 {
		errs = append(errs, errors.New("pool sizes must not be negative"))
	} else if c.DB.MaxOpenConns > 0 && c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) must not exceed DB_MAX_OPEN_CONNS (%d)", c.DB.MaxIdleConns, c.DB.MaxOpenConns))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Ledger.CommissionMode == "" {
		c.Ledger.CommissionMode = "referral"
	}
	if !isValidCommissionMode(c.Ledger.CommissionMode) {
		errs = append(errs, fmt.Errorf("LEDGER_COMMISSION_MODE must be one of deducted, referral, got %q", c.Ledger.CommissionMode))
	}
	if c.Ledger.DefaultCommissionRate.IsNegative() || c.Ledger.DefaultCommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("LEDGER_DEFAULT_COMMISSION_RATE must be within 0..100, got %s", c.Ledger.DefaultCommissionRate))
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_RETRIES must not be negative, got %d", c.Ledger.MaxRetries))
	} else if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = 3
	}
	if c.Ledger.BalanceCacheTTL <= 0 {
		c.Ledger.BalanceCacheTTL = 5 * time.Second
	}
	if c.Ledger.IdempotencyTTL <= 0 {
		c.Ledger.IdempotencyTTL = 24 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsLocal reports whether developer conveniences (token issuance) may be enabled.
func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// envReader collects parse failures so Load can report all of them at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) requiredInt(key string) int {
	if r.str(key) == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.optionalInt(key)
}

func (r *envReader) optionalInt(key string) int {
	v := r.str(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n
}

func (r *envReader) decimal(key string) decimal.Decimal {
	v := r.str(key)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a decimal number, got %q", key, v))
		return decimal.Zero
	}
	return d
}

func (r *envReader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration like 30s or 5m, got %q", key, v))
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidCommissionMode(v string) bool {
	switch v {
	case "deducted", "referral":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
