package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads and moves into an empty
// directory, so neither the host environment nor a stray ./.env can leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	for _, k := range []string{
		"PORT", "INITIAL_BALANCE", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "LOG_FILE",
		"CORS_ORIGINS", "CACHE_TTL", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.True(t, cfg.InitialBalance().Equal(decimal.NewFromInt(1_000_000)))
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Empty(t, cfg.Archive.DatabaseURL)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
server:
  port: "8081"
  request_timeout: 5s
  cors_origins: ["http://localhost:5173"]
portfolio:
  initial_balance: "2500.50"
log:
  level: debug
rate_limit:
  rps: 0
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.InitialBalance().Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Zero(t, cfg.RateLimit.RPS)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "server:\n  port: \"8081\"\n")
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("CACHE_TTL", "2m")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Minute, cfg.Archive.CacheTTL)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, even to "".
	os.Unsetenv("INITIAL_BALANCE")
	t.Cleanup(func() { os.Unsetenv("INITIAL_BALANCE") })
	envPath := writeFile(t, ".env", "INITIAL_BALANCE=500\n")

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.True(t, cfg.InitialBalance().Equal(decimal.NewFromInt(500)))
}

func TestLoad_ExplicitEnvFileMustExist(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "missing.env")

	_, err := Load("", missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorContains(t, err, missing)
}

func TestLoad_ImplicitEnvFileIsOptional(t *testing.T) {
	clearEnv(t)

	_, err := Load("", "")
	assert.NoError(t, err)
}

func TestLoad_MissingYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL", "soon")
	_, err := Load("", "")
	assert.ErrorContains(t, err, "CACHE_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "server.port"},
		{"non-numeric balance", func(c *Config) { c.Portfolio.InitialBalance = "lots" }, "initial_balance"},
		{"zero balance", func(c *Config) { c.Portfolio.InitialBalance = "0" }, "initial_balance"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }, "rate_limit.rps"},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit.burst"},
		{"redis without db", func(c *Config) { c.Archive.RedisURL = "redis://localhost:6379" }, "redis_url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
