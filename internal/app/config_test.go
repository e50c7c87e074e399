package app

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "RBAC_CACHE_TTL", "RBAC_USER_CACHE_SIZE", "RBAC_INVALIDATION_CHANNEL", "RBAC_SEED_ON_START"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("PG_DSN", "postgres://localhost/console_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.RBACCacheTTL)
	require.Equal(t, 10000, cfg.RBACUserCacheSize)
	require.Equal(t, "rbac.invalidate", cfg.RBACInvalidationChannel)
	require.True(t, cfg.RBACSeedOnStart)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RBAC_CACHE_TTL", "0")
	t.Setenv("RBAC_USER_CACHE_SIZE", "50")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Zero(t, cfg.RBACCacheTTL)
	require.Equal(t, 50, cfg.RBACUserCacheSize)
	require.Equal(t, 30, cfg.RateLimitPerMinute)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{PGDSN: "postgres://x", RBACUserCacheSize: 1, RateLimitPerMinute: 1}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing dsn":      func(c *Config) { c.PGDSN = "" },
		"negative ttl":     func(c *Config) { c.RBACCacheTTL = -time.Second },
		"zero cache size":  func(c *Config) { c.RBACUserCacheSize = 0 },
		"negative timeout": func(c *Config) { c.RBACLoadTimeout = -time.Second },
		"zero rate limit":  func(c *Config) { c.RateLimitPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("role_id", "admin"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"role_id":"admin"`)
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
}
