package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ratelimiter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no stray .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_WithDefaults(t *testing.T) {
	isolate(t)

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, models.StoreTypeMemory, config.Store.Type)
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, time.Minute, config.RateLimit.Window)
	assert.Equal(t, 100, config.RateLimit.MaxRequests)
	assert.Equal(t, models.KeyStrategyClientPath, config.RateLimit.KeyStrategy)
	assert.Equal(t, models.FailOpen, config.RateLimit.FailurePolicy)
	assert.Equal(t, time.Minute, config.RateLimit.SweepInterval)
	assert.False(t, config.Admin.Enabled)
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9000
  host: "127.0.0.1"
  read_timeout: 10s

store:
  type: "redis"
  redis:
    addr: "redis:6379"
    db: 2
    key_prefix: "rl:"

rate_limit:
  window: 30s
  max_requests: 3
  key_strategy: "client"
  failure_policy: "fail-closed"
  sweep_interval: 0s
  store_timeout: 100ms
  trust_proxy_headers: true
  exempt_paths: ["/health", "/static/*"]

admin:
  enabled: true
  token: "0123456789abcdef0123"

logging:
  level: "debug"
  format: "text"
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)

	assert.Equal(t, models.StoreTypeRedis, config.Store.Type)
	assert.Equal(t, "redis:6379", config.Store.Redis.Addr)
	assert.Equal(t, 2, config.Store.Redis.DB)
	assert.Equal(t, "rl:", config.Store.Redis.KeyPrefix)
	assert.Equal(t, 10, config.Store.Redis.PoolSize, "unset keys keep their defaults")

	assert.Equal(t, 30*time.Second, config.RateLimit.Window)
	assert.Equal(t, 3, config.RateLimit.MaxRequests)
	assert.Equal(t, models.KeyStrategyClient, config.RateLimit.KeyStrategy)
	assert.Equal(t, models.FailClosed, config.RateLimit.FailurePolicy)
	assert.Equal(t, time.Duration(0), config.RateLimit.SweepInterval)
	assert.Equal(t, 100*time.Millisecond, config.RateLimit.StoreTimeout)
	assert.True(t, config.RateLimit.TrustProxyHeaders)
	assert.Equal(t, []string{"/health", "/static/*"}, config.RateLimit.ExemptPaths)

	assert.True(t, config.Admin.Enabled)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoad_MillisecondKeys(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", `
rate_limit:
  window_ms: 60000
  max_requests: 3
  sweep_interval_ms: 0
  store_timeout_ms: 50
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, config.RateLimit.Window)
	assert.Equal(t, time.Duration(0), config.RateLimit.SweepInterval)
	assert.Equal(t, 50*time.Millisecond, config.RateLimit.StoreTimeout)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	isolate(t)

	t.Setenv("RATELIMITER_PORT", "7070")
	t.Setenv("RATELIMITER_STORE_TYPE", "postgres")
	t.Setenv("RATELIMITER_DATABASE_DSN", "postgres://localhost/rl")
	t.Setenv("RATELIMITER_WINDOW_MS", "1500")
	t.Setenv("RATELIMITER_MAX_REQUESTS", "7")
	t.Setenv("RATELIMITER_FAILURE_POLICY", "fail-closed")
	t.Setenv("RATELIMITER_TRUST_PROXY_HEADERS", "true")
	t.Setenv("RATELIMITER_EXEMPT_PATHS", "/health, /ready ,")
	t.Setenv("RATELIMITER_LOG_LEVEL", "warn")
	t.Setenv("RATELIMITER_METRICS_ENABLED", "false")
	t.Setenv("RATELIMITER_TRACING_SAMPLE_RATE", "0.25")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, models.StoreTypePostgres, config.Store.Type)
	assert.Equal(t, "postgres://localhost/rl", config.Store.Database.DSN)
	assert.Equal(t, 1500*time.Millisecond, config.RateLimit.Window)
	assert.Equal(t, 7, config.RateLimit.MaxRequests)
	assert.Equal(t, models.FailClosed, config.RateLimit.FailurePolicy)
	assert.True(t, config.RateLimit.TrustProxyHeaders)
	assert.Equal(t, []string{"/health", "/ready"}, config.RateLimit.ExemptPaths)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, 0.25, config.Observability.Tracing.SampleRate)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", "rate_limit:\n  max_requests: 3\n")
	t.Setenv("RATELIMITER_MAX_REQUESTS", "9")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, config.RateLimit.MaxRequests)
}

func TestLoad_InvalidEnvironmentValueIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("RATELIMITER_MAX_REQUESTS", "lots")
	t.Setenv("RATELIMITER_EXPOSE_HEADERS", "maybe")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, config.RateLimit.MaxRequests)
	assert.True(t, config.RateLimit.ExposeHeaders)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, ".env", "RATELIMITER_MAX_REQUESTS=42\nRATELIMITER_KEY_STRATEGY=path\n")

	// godotenv exports into the process environment; undo that after the test.
	t.Setenv("RATELIMITER_MAX_REQUESTS", "")
	t.Setenv("RATELIMITER_KEY_STRATEGY", "")
	require.NoError(t, os.Unsetenv("RATELIMITER_MAX_REQUESTS"))
	require.NoError(t, os.Unsetenv("RATELIMITER_KEY_STRATEGY"))

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, config.RateLimit.MaxRequests)
	assert.Equal(t, models.KeyStrategyPath, config.RateLimit.KeyStrategy)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "custom.env", "RATELIMITER_MAX_REQUESTS=42\n")
	t.Setenv("RATELIMITER_ENV_FILE", filepath.Join(dir, "custom.env"))
	t.Setenv("RATELIMITER_MAX_REQUESTS", "5")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, config.RateLimit.MaxRequests)
}

func TestLoad_NonExistentFile(t *testing.T) {
	isolate(t)
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "bad.yaml", "rate_limit:\n  window: [not a duration\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "empty.yaml", "")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.NewDefaultConfig().RateLimit.MaxRequests, config.RateLimit.MaxRequests)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero max requests", "rate_limit:\n  max_requests: 0\n"},
		{"zero window", "rate_limit:\n  window_ms: 0\n"},
		{"unknown policy", "rate_limit:\n  failure_policy: fail-sometimes\n"},
		{"unknown key strategy", "rate_limit:\n  key_strategy: cookie\n"},
		{"short admin token", "admin:\n  enabled: true\n  token: short\n"},
		{"postgres without dsn", "store:\n  type: postgres\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := writeFile(t, dir, "config.yaml", tt.content)

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestSaveExample(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RATELIMITER_")
	assert.Contains(t, string(data), "window: 1m0s")

	config, err := Load(path)
	require.NoError(t, err, "the example must load cleanly")
	assert.Equal(t, models.StoreTypeRedis, config.Store.Type)
	assert.True(t, config.Admin.Enabled)
}
