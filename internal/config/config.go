// Package config holds the service configuration and its layered loader.
package config

import "time"

// Config is the root configuration for tenantauth binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Lockout  LockoutConfig  `yaml:"lockout"`
	Redis    RedisConfig    `yaml:"redis"`
	Messages MessagesConfig `yaml:"messages"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	// Login requests per second and burst, per client IP.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// CIDRs or addresses of reverse proxies allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"`
	Burst     int `yaml:"burst"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

type AuthConfig struct {
	BcryptCost     int           `yaml:"bcrypt_cost"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	PasswordMaxAge time.Duration `yaml:"password_max_age"`
}

type LockoutConfig struct {
	Threshold int `yaml:"threshold"`
	// Backend is "store" (counter kept in m_user) or "redis".
	Backend string        `yaml:"backend"`
	Window  time.Duration `yaml:"window"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MessagesConfig struct {
	File          string `yaml:"file"`
	DefaultLocale string `yaml:"default_locale"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns a configuration with built-in defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimitConfig{PerSecond: 5, Burst: 10},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			BcryptCost:     12,
			StoreTimeout:   3 * time.Second,
			PasswordMaxAge: 90 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Backend:   "store",
			Window:    24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "tenantauth:lockout:",
		},
		Messages: MessagesConfig{DefaultLocale: "en"},
		Log:      LogConfig{Level: "info"},
	}
}
