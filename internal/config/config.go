package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver       string        `toml:"db_driver"`
	DBSource       string        `toml:"db_source"`
	Port           string        `toml:"server_port"`
	Env            string        `toml:"environment"`
	JWTSecret      string        `toml:"jwt_secret"`
	LockTimeout    time.Duration `toml:"lock_timeout"`
	TxMaxAttempts  int           `toml:"tx_max_attempts"`
	RateLimitRPS   float64       `toml:"rate_limit_rps"`
	RateLimitBurst int           `toml:"rate_limit_burst"`
	AuditSchedule  string        `toml:"audit_schedule"`
	MigrateOnStart bool          `toml:"migrate_on_start"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func defaults() Config {
	return Config{
		DBDriver:       DriverPostgres,
		Port:           "8080",
		Env:            "development",
		LockTimeout:    2 * time.Second,
		TxMaxAttempts:  5,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		AuditSchedule:  "@every 5m",
		MigrateOnStart: true,
	}
}

// Load reads an optional .env file, then the TOML file named by
// GRAINS_CONFIG, then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("GRAINS_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DB_DRIVER", &cfg.DBDriver)
	setString("DB_SOURCE", &cfg.DBSource)
	setString("SERVER_PORT", &cfg.Port)
	setString("ENVIRONMENT", &cfg.Env)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("AUDIT_SCHEDULE", &cfg.AuditSchedule)

	if v := os.Getenv("LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LOCK_TIMEOUT: %w", err)
		}
		cfg.LockTimeout = d
	}
	if v := os.Getenv("TX_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TX_MAX_ATTEMPTS: %w", err)
		}
		cfg.TxMaxAttempts = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}
	if v := os.Getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MIGRATE_ON_START: %w", err)
		}
		cfg.MigrateOnStart = b
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if c.DBDriver != DriverPostgres && c.DBDriver != DriverSQLite {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.TxMaxAttempts <= 0 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
