package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when neither a flag nor LEDGER_CONFIG names a file.
	DefaultConfigPath = "config.yaml"
	// DefaultJWTExpiry is the account session lifetime when none is configured.
	DefaultJWTExpiry = 72 * time.Hour
	// DefaultListenAddr is the HTTP listen address when none is configured.
	DefaultListenAddr = ":8080"
	// DefaultTimezone defines the accrual calendar.
	DefaultTimezone = "Asia/Kolkata"
)

// AppConfig holds process-level options passed by the CLI.
type AppConfig struct {
	ConfigPath string
}

// JWTConfig holds session token settings.
type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// FileConfig is the YAML configuration file layout.
type FileConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      jwtFileConfig  `yaml:"jwt"`
	Security SecurityConfig `yaml:"security"`
	SMS      SMSConfig      `yaml:"sms"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Payment  PaymentConfig  `yaml:"payment"`
	Accrual  AccrualConfig  `yaml:"accrual"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // gin mode: debug, release or test.
}

// DatabaseConfig selects the ledger store. Postgres URLs use pgx; anything else is a sqlite path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type jwtFileConfig struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

// SecurityConfig holds the field encryption keys.
type SecurityConfig struct {
	FieldKey  string `yaml:"field-key"`  // 32 raw bytes or 64 hex chars.
	LookupKey string `yaml:"lookup-key"` // HMAC key for phone lookup hashes.
}

// SMSConfig selects the OTP transport. An empty API key logs codes instead of sending them.
type SMSConfig struct {
	APIKey   string        `yaml:"api-key"`
	SenderID string        `yaml:"sender-id"`
	BaseURL  string        `yaml:"base-url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig enables the shared rate limit store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EventsConfig enables the AMQP publisher when URL is set.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp-url"`
	Exchange string `yaml:"exchange"`
}

// PaymentConfig holds the UPI payee defaults. Runtime settings override them.
type PaymentConfig struct {
	PayeeID   string `yaml:"payee-id"`
	PayeeName string `yaml:"payee-name"`
}

// AccrualConfig controls the daily return scheduler.
type AccrualConfig struct {
	Schedule   string `yaml:"schedule"`
	Timezone   string `yaml:"timezone"`
	RunOnStart *bool  `yaml:"run-on-start"`
}

// LogConfig controls logrus output and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ResolveConfigPath returns path, LEDGER_CONFIG or DefaultConfigPath, in that order.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv("LEDGER_CONFIG")); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ConfigExists reports whether path names a regular file.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML file at path (missing is allowed), then applies .env and environment
// overrides and defaults.
func Load(path string) (*FileConfig, error) {
	loadDotEnv(path)

	cfg := &FileConfig{}
	if ConfigExists(path) {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// loadDotEnv loads .env beside the config file and in the working directory. Variables that
// are already set win.
func loadDotEnv(path string) {
	candidates := []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if !ConfigExists(abs) {
			continue
		}
		if errLoad := godotenv.Load(abs); errLoad != nil {
			log.WithError(errLoad).Warnf("config: load %s failed", abs)
		}
	}
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Database.DSN, "LEDGER_DATABASE_DSN")
	setString(&cfg.JWT.Secret, "LEDGER_JWT_SECRET")
	setString(&cfg.JWT.Expiry, "LEDGER_JWT_EXPIRY")
	setString(&cfg.Security.FieldKey, "LEDGER_FIELD_KEY")
	setString(&cfg.Security.LookupKey, "LEDGER_LOOKUP_KEY")
	setString(&cfg.SMS.APIKey, "FAST2SMS_API_KEY")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Events.AMQPURL, "RABBITMQ_URL")
	setString(&cfg.Payment.PayeeID, "UPI_PAYEE_ID")
	setString(&cfg.Server.Addr, "LEDGER_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultListenAddr
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "ledger:ratelimit:"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "ledger.events"
	}
	if cfg.Payment.PayeeName == "" {
		cfg.Payment.PayeeName = "InvestKar"
	}
	if cfg.Accrual.Timezone == "" {
		cfg.Accrual.Timezone = DefaultTimezone
	}
	if cfg.Accrual.RunOnStart == nil {
		runOnStart := true
		cfg.Accrual.RunOnStart = &runOnStart
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// JWTConfig returns the parsed session token settings.
func (c *FileConfig) JWTConfig() (JWTConfig, error) {
	secret := strings.TrimSpace(c.JWT.Secret)
	if len(secret) < 16 {
		return JWTConfig{}, errors.New("config: jwt secret must be at least 16 characters")
	}
	expiry := DefaultJWTExpiry
	if raw := strings.TrimSpace(c.JWT.Expiry); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return JWTConfig{}, fmt.Errorf("config: invalid jwt expiry %q", raw)
		}
		expiry = parsed
	}
	return JWTConfig{Secret: secret, Expiry: expiry}, nil
}

// Location returns the accrual timezone.
func (c *FileConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Accrual.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid accrual timezone %q: %w", c.Accrual.Timezone, err)
	}
	return loc, nil
}

// LoadDatabaseDSN returns the configured database DSN.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return "", errors.New("config: database dsn is required (database.dsn or LEDGER_DATABASE_DSN)")
	}
	return cfg.Database.DSN, nil
}

// LoadJWTConfig returns the session token settings from the config at path.
func LoadJWTConfig(path string) (JWTConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return JWTConfig{}, err
	}
	return cfg.JWTConfig()
}
