package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/authkeeper/internal/token"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":8081", cfg.GRPCHealthAddr)
	require.Equal(t, BackendPostgres, cfg.SessionBackend)
	require.Equal(t, int64(900), cfg.JWTAccessExpSeconds)
	require.Equal(t, int64(604800), cfg.JWTRefreshExpSeconds)
	require.Equal(t, "@every 10m", cfg.SessionSweepSpec)
	require.True(t, cfg.RevokeSessionsOnPasswordChange)

	tc := cfg.Token()
	require.Equal(t, 15*time.Minute, tc.AccessTTL)
	require.Equal(t, 7*24*time.Hour, tc.RefreshTTL)
	require.Equal(t, []byte(token.DefaultAccessSecret), tc.AccessSecret)

	p := cfg.HashParams()
	require.Equal(t, uint32(64*1024), p.Memory)
	require.Equal(t, uint32(3), p.Time)
	require.Equal(t, uint8(4), p.Threads)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("JWT_ACCESS_EXP_SECONDS", "60")
	t.Setenv("JWT_ACCESS_SECRET", "a-secret")
	t.Setenv("ARGON2_MEMORY_KIB", "1024")
	t.Setenv("HASH_WORKERS", "3")
	t.Setenv("REVOKE_SESSIONS_ON_PASSWORD_CHANGE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.SessionBackend)
	require.Equal(t, time.Minute, cfg.Token().AccessTTL)
	require.Equal(t, []byte("a-secret"), cfg.Token().AccessSecret)
	require.Equal(t, uint32(1024), cfg.HashParams().Memory)
	require.Equal(t, 3, cfg.HashWorkers)
	require.False(t, cfg.RevokeSessionsOnPasswordChange)
}

func TestLoad_ProductionRefusesDefaultSecrets(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")

	_, err := Load()
	require.ErrorContains(t, err, "default JWT secrets")

	t.Setenv("JWT_ACCESS_SECRET", "prod-access")
	t.Setenv("JWT_REFRESH_SECRET", "prod-refresh")
	_, err = Load()
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		HTTPAddr: ":8080", SessionBackend: BackendPostgres, DatabaseURL: "postgres://x",
		JWTAccessSecret: "a", JWTRefreshSecret: "r", JWTAccessExpSeconds: 1, JWTRefreshExpSeconds: 1,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.SessionBackend = "mongo" }},
		{"missing dsn", func(c *Config) { c.DatabaseURL = "" }},
		{"redis without url", func(c *Config) { c.SessionBackend = BackendRedis; c.RedisURL = "" }},
		{"zero ttl", func(c *Config) { c.JWTAccessExpSeconds = 0 }},
		{"empty secret", func(c *Config) { c.JWTRefreshSecret = "" }},
		{"memory in production", func(c *Config) { c.Env = EnvProduction; c.SessionBackend = BackendMemory }},
		{"no http addr", func(c *Config) { c.HTTPAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mod(&c)
			require.Error(t, c.Validate())
		})
	}
}
