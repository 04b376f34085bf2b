// Package config loads the paper trader configuration.
//
// Priority: ENV > .env file > YAML file > defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type Portfolio struct {
	// InitialBalance is a decimal string so no precision is lost on the way in.
	InitialBalance string `yaml:"initial_balance"`
}

// Archive configures the optional audit archive. With no DatabaseURL the
// archive is kept in memory.
type Archive struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // also write JSON logs here when set
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Portfolio Portfolio `yaml:"portfolio"`
	Archive   Archive   `yaml:"archive"`
	Log       Log       `yaml:"log"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:            "3000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Portfolio: Portfolio{
			InitialBalance: "1000000",
		},
		Archive: Archive{
			CacheTTL: 30 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
		RateLimit: RateLimit{
			RPS:   20,
			Burst: 40,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// yamlPath, the optional .env file at envPath and the process environment.
// An empty yamlPath is skipped. An empty envPath tries ./.env and tolerates
// its absence; an explicit envPath must load.
func Load(yamlPath, envPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
	}

	// Existing environment variables win over .env entries.
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("INITIAL_BALANCE"); v != "" {
		c.Portfolio.InitialBalance = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Archive.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Archive.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}

	var err error
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if c.Archive.CacheTTL, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if c.Server.RequestTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if c.RateLimit.RPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if c.RateLimit.Burst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port cannot be empty")
	}
	if _, err := strconv.ParseUint(c.Server.Port, 10, 16); err != nil {
		return fmt.Errorf("server.port must be a TCP port, got %q", c.Server.Port)
	}
	balance, err := decimal.NewFromString(c.Portfolio.InitialBalance)
	if err != nil {
		return fmt.Errorf("portfolio.initial_balance %q is not a number", c.Portfolio.InitialBalance)
	}
	if !balance.IsPositive() {
		return fmt.Errorf("portfolio.initial_balance must be positive, got %s", balance)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps cannot be negative, got %.2f", c.RateLimit.RPS)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1, got %d", c.RateLimit.Burst)
	}
	if c.Archive.RedisURL != "" && c.Archive.DatabaseURL == "" {
		return errors.New("archive.redis_url requires archive.database_url")
	}
	return nil
}

// InitialBalance returns the validated starting balance.
func (c Config) InitialBalance() decimal.Decimal {
	return decimal.RequireFromString(c.Portfolio.InitialBalance)
}
