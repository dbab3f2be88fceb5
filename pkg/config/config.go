package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hugh/scanhub/pkg/util"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Scanner    ScannerConfig
	Worker     WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// ScannerConfig describes how the remote scanning backend is reached and
// how long a dispatched scan may sit in running before it is presumed lost.
type ScannerConfig struct {
	BaseURL           string
	TimeoutSeconds    int
	MaxRPS            float64
	StaleAfterSeconds int
}

type WorkerConfig struct {
	Concurrency   int
	ReconcileCron string
	MetricsAddr   string // empty disables the worker's /metrics listener
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (s *ScannerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// StaleAfter falls back to three client timeouts when unset.
func (s *ScannerConfig) StaleAfter() time.Duration {
	if s.StaleAfterSeconds <= 0 {
		return 3 * s.Timeout()
	}
	return time.Duration(s.StaleAfterSeconds) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "scanhub")
	v.SetDefault("DATABASE_PASSWORD", "scanhub_secret")
	v.SetDefault("DATABASE_NAME", "scanhub")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("SCANNER_API_URL", "http://localhost:8000")
	v.SetDefault("SCANNER_TIMEOUT_SECONDS", 30)
	v.SetDefault("SCANNER_MAX_RPS", 0)
	v.SetDefault("SCAN_STALE_AFTER_SECONDS", 0)
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("RECONCILE_CRON", "*/5 * * * *")
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Scanner: ScannerConfig{
			BaseURL:           strings.TrimRight(v.GetString("SCANNER_API_URL"), "/"),
			TimeoutSeconds:    v.GetInt("SCANNER_TIMEOUT_SECONDS"),
			MaxRPS:            v.GetFloat64("SCANNER_MAX_RPS"),
			StaleAfterSeconds: v.GetInt("SCAN_STALE_AFTER_SECONDS"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("WORKER_CONCURRENCY"),
			ReconcileCron: v.GetString("RECONCILE_CRON"),
			MetricsAddr:   v.GetString("WORKER_METRICS_ADDR"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the lifecycle cannot run with.
func (c *Config) Validate() error {
	if c.Scanner.BaseURL == "" {
		return fmt.Errorf("SCANNER_API_URL must not be empty")
	}
	if c.Scanner.TimeoutSeconds <= 0 {
		return fmt.Errorf("SCANNER_TIMEOUT_SECONDS must be positive, got %d", c.Scanner.TimeoutSeconds)
	}
	if c.Scanner.MaxRPS < 0 {
		return fmt.Errorf("SCANNER_MAX_RPS must not be negative")
	}
	if c.Scanner.StaleAfter() <= c.Scanner.Timeout() {
		return fmt.Errorf("SCAN_STALE_AFTER_SECONDS must exceed the scanner timeout")
	}
	if err := util.ValidateCronExpr(c.Worker.ReconcileCron); err != nil {
		return fmt.Errorf("RECONCILE_CRON: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
