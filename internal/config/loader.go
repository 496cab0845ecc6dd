package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "TENANTAUTH_"

// Load builds the configuration from defaults, an optional YAML file
// (explicit path, then TENANTAUTH_CONFIG), environment overrides and
// _file secret references, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(name string, dst *int) {
		if v := getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not an integer", envPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a duration", envPrefix, name, v))
				return
			}
			*dst = d
		}
	}

	list := func(name string, dst *[]string) {
		if v := getenv(envPrefix + name); v != "" {
			var out []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			*dst = out
		}
	}

	str("HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("GRPC_ADDR", &cfg.Server.GRPCAddr)
	list("TRUSTED_PROXIES", &cfg.Server.TrustedProxies)
	str("DB_DSN", &cfg.Database.DSN)
	str("DB_DSN_FILE", &cfg.Database.DSNFile)
	num("BCRYPT_COST", &cfg.Auth.BcryptCost)
	dur("STORE_TIMEOUT", &cfg.Auth.StoreTimeout)
	dur("PASSWORD_MAX_AGE", &cfg.Auth.PasswordMaxAge)
	num("LOCKOUT_THRESHOLD", &cfg.Lockout.Threshold)
	str("LOCKOUT_BACKEND", &cfg.Lockout.Backend)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("MESSAGES_FILE", &cfg.Messages.File)
	str("DEFAULT_LOCALE", &cfg.Messages.DefaultLocale)
	str("LOG_LEVEL", &cfg.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func resolveFileReferences(cfg *Config) error {
	if cfg.Database.DSNFile != "" && cfg.Database.DSN == "" {
		val, err := readSecretFile(cfg.Database.DSNFile)
		if err != nil {
			return fmt.Errorf("database.dsn_file: %w", err)
		}
		cfg.Database.DSN = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
