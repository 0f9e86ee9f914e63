// Package config loads server settings from the environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/and161185/authkeeper/internal/crypto"
	"github.com/and161185/authkeeper/internal/token"
)

// Session backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// EnvProduction is the APP_ENV value that forbids development defaults.
const EnvProduction = "production"

// Config is read once at startup and passed down explicitly.
type Config struct {
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	JWTAccessSecret      string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret     string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTAccessExpSeconds  int64  `mapstructure:"JWT_ACCESS_EXP_SECONDS"`
	JWTRefreshExpSeconds int64  `mapstructure:"JWT_REFRESH_EXP_SECONDS"`

	Argon2MemoryKiB uint32 `mapstructure:"ARGON2_MEMORY_KIB"`
	Argon2Time      uint32 `mapstructure:"ARGON2_TIME"`
	Argon2Threads   uint8  `mapstructure:"ARGON2_THREADS"`
	HashWorkers     int    `mapstructure:"HASH_WORKERS"`

	SessionSweepSpec               string `mapstructure:"SESSION_SWEEP_SPEC"`
	RevokeSessionsOnPasswordChange bool   `mapstructure:"REVOKE_SESSIONS_ON_PASSWORD_CHANGE"`

	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	def := crypto.DefaultParams()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_BACKEND", BackendPostgres)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_ACCESS_SECRET", token.DefaultAccessSecret)
	v.SetDefault("JWT_REFRESH_SECRET", token.DefaultRefreshSecret)
	v.SetDefault("JWT_ACCESS_EXP_SECONDS", int64(token.DefaultAccessTTL/time.Second))
	v.SetDefault("JWT_REFRESH_EXP_SECONDS", int64(token.DefaultRefreshTTL/time.Second))
	v.SetDefault("ARGON2_MEMORY_KIB", def.Memory)
	v.SetDefault("ARGON2_TIME", def.Time)
	v.SetDefault("ARGON2_THREADS", def.Threads)
	v.SetDefault("HASH_WORKERS", 0)
	v.SetDefault("SESSION_SWEEP_SPEC", "@every 10m")
	v.SetDefault("REVOKE_SESSIONS_ON_PASSWORD_CHANGE", true)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.SessionBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: SESSION_BACKEND must be one of postgres, redis, memory (got %q)", c.SessionBackend)
	}
	if c.SessionBackend != BackendMemory && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set unless SESSION_BACKEND=memory")
	}
	if c.SessionBackend == BackendRedis && c.RedisURL == "" {
		return errors.New("config: REDIS_URL must be set when SESSION_BACKEND=redis")
	}
	if c.JWTAccessExpSeconds <= 0 || c.JWTRefreshExpSeconds <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return errors.New("config: JWT secrets must not be empty")
	}
	if c.Env == EnvProduction {
		if c.JWTAccessSecret == token.DefaultAccessSecret || c.JWTRefreshSecret == token.DefaultRefreshSecret {
			return errors.New("config: default JWT secrets must not be used when APP_ENV=production")
		}
		if c.SessionBackend == BackendMemory {
			return errors.New("config: SESSION_BACKEND=memory is not allowed when APP_ENV=production")
		}
	}
	return nil
}

// Token returns the issuer configuration.
func (c *Config) Token() token.Config {
	return token.Config{
		AccessSecret:  []byte(c.JWTAccessSecret),
		RefreshSecret: []byte(c.JWTRefreshSecret),
		AccessTTL:     time.Duration(c.JWTAccessExpSeconds) * time.Second,
		RefreshTTL:    time.Duration(c.JWTRefreshExpSeconds) * time.Second,
	}
}

// HashParams returns the Argon2 cost parameters.
func (c *Config) HashParams() crypto.Params {
	p := crypto.DefaultParams()
	if c.Argon2MemoryKiB > 0 {
		p.Memory = c.Argon2MemoryKiB
	}
	if c.Argon2Time > 0 {
		p.Time = c.Argon2Time
	}
	if c.Argon2Threads > 0 {
		p.Threads = c.Argon2Threads
	}
	return p
}
