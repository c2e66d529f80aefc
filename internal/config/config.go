// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultJWTSecret = "dev-secret-change-in-production"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env  string `yaml:"env"`
	HTTP struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`
	Store    string `yaml:"store"`
	Database struct {
		URL            string `yaml:"url"`
		TimeZone       string `yaml:"timezone"`
		ClientEncoding string `yaml:"client_encoding"`
	} `yaml:"db"`
	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		JWTTTL     time.Duration `yaml:"jwt_ttl"`
		BcryptCost int           `yaml:"bcrypt_cost"`
		RateRPS    float64       `yaml:"rate_rps"`
		RateBurst  int           `yaml:"rate_burst"`
	} `yaml:"auth"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	SnowflakeNode int64 `yaml:"snowflake_node"`
}

func defaults() Config {
	var c Config
	c.Env = "development"
	c.HTTP.Addr = "0.0.0.0:8431"
	c.Store = StorePostgres
	c.Auth.JWTSecret = DefaultJWTSecret
	c.Auth.JWTTTL = 24 * time.Hour
	c.Auth.BcryptCost = 12
	c.Auth.RateRPS = 1
	c.Auth.RateBurst = 5
	c.AMQP.Exchange = "messenger.events"
	c.SnowflakeNode = 1
	return c
}

// Load reads .env (best effort), then CONFIG_FILE if set, then the
// environment, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	setString(&cfg.Store, "STORE")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.TimeZone, "DATABASE_TIMEZONE")
	setString(&cfg.Database.ClientEncoding, "DATABASE_CLIENT_ENCODING")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.AMQP.URL, "AMQP_URL")
	setString(&cfg.AMQP.Exchange, "AMQP_EXCHANGE")

	if v := os.Getenv("JWT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JWT_TTL: %w", err)
		}
		cfg.Auth.JWTTTL = d
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}
		cfg.Auth.BcryptCost = n
	}
	if v := os.Getenv("AUTH_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AUTH_RATE_RPS: %w", err)
		}
		cfg.Auth.RateRPS = f
	}
	if v := os.Getenv("AUTH_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTH_RATE_BURST: %w", err)
		}
		cfg.Auth.RateBurst = n
	}
	if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SNOWFLAKE_NODE: %w", err)
		}
		cfg.SnowflakeNode = n
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Env == "production" && c.Auth.JWTSecret == DefaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production environment")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.Auth.JWTTTL < 0 {
		return errors.New("JWT_TTL must not be negative")
	}
	if c.Auth.RateRPS <= 0 || c.Auth.RateBurst <= 0 {
		return errors.New("auth rate limit must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
