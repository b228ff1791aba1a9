// Package config builds the single Config value the authority service is
// wired from. It is constructed once in main and passed to every component;
// nothing in the service reads configuration ambiently.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config is the fully-resolved service configuration.
type Config struct {
	Server   ServerConfig
	Keys     KeysConfig
	Token    TokenConfig
	Password PasswordConfig
	Database DatabaseConfig
	Security SecurityConfig
	Log      LogConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int
	BaseURL      string
	CORSOrigins  []string
	RateLimitRPS int
}

// KeysConfig locates the RSA key pair. Paths may be local files or
// s3://bucket/key URLs.
type KeysConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string
}

// TokenConfig controls issued access tokens.
type TokenConfig struct {
	TTL time.Duration
}

// PasswordConfig controls bcrypt hashing and the worker pool that runs it.
type PasswordConfig struct {
	BcryptCost int
	Workers    int
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	URL string
}

// SecurityConfig holds the shared secret that gates administrative endpoints.
type SecurityConfig struct {
	InternalAPIKey string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// envBindings maps config keys to the environment variable names the
// service has always been deployed with.
var envBindings = map[string]string{
	"server.port":               "PORT",
	"server.base_url":           "BASE_URL",
	"keys.private_key_path":     "RSA_PRIVATE_KEY_PATH",
	"keys.public_key_path":      "RSA_PUBLIC_KEY_PATH",
	"keys.key_id":               "PRODUCT_KEY_ID",
	"token.ttl_seconds":         "TOKEN_TTL_SECONDS",
	"password.bcrypt_cost":      "BCRYPT_COST",
	"password.workers":          "HASH_WORKERS",
	"database.url":              "DATABASE_URL",
	"postgres.user":             "POSTGRES_USER",
	"postgres.password":         "POSTGRES_PASSWORD",
	"postgres.host":             "POSTGRES_HOST",
	"postgres.port":             "POSTGRES_PORT",
	"postgres.db":               "POSTGRES_DB",
	"security.internal_api_key": "INTERNAL_API_KEY",
	"log.level":                 "LOG_LEVEL",
	"log.development":           "LOG_DEVELOPMENT",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.base_url", "http://authentication:8082")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("keys.private_key_path", "keys/private_key.pem")
	v.SetDefault("keys.public_key_path", "keys/public_key.pem")
	v.SetDefault("keys.key_id", "product-service-key-1")
	v.SetDefault("token.ttl_seconds", 3600)
	v.SetDefault("password.bcrypt_cost", 12)
	v.SetDefault("password.workers", runtime.NumCPU())
	v.SetDefault("database.url", "")
	v.SetDefault("postgres.user", "devops")
	v.SetDefault("postgres.password", "catalogue")
	v.SetDefault("postgres.host", "products-db")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.db", "products-db")
	v.SetDefault("security.internal_api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// NewViper returns a viper instance with defaults, env bindings and the
// configs/authority.yaml search path registered. cfgFile overrides the
// search path when non-empty.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("authority")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	SetDefaults(v)
	return v
}

// ReadFile reads the config file if one is present. A missing file is not an
// error; the second return value reports whether a file was read.
func ReadFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &cfgNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read config: %w", err)
	}
	return true, nil
}

// Load resolves a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			BaseURL:      strings.TrimRight(v.GetString("server.base_url"), "/"),
			CORSOrigins:  v.GetStringSlice("server.cors_origins"),
			RateLimitRPS: v.GetInt("server.rate_limit_rps"),
		},
		Keys: KeysConfig{
			PrivateKeyPath: v.GetString("keys.private_key_path"),
			PublicKeyPath:  v.GetString("keys.public_key_path"),
			KeyID:          strings.TrimSpace(v.GetString("keys.key_id")),
		},
		Token: TokenConfig{
			TTL: time.Duration(v.GetInt("token.ttl_seconds")) * time.Second,
		},
		Password: PasswordConfig{
			BcryptCost: v.GetInt("password.bcrypt_cost"),
			Workers:    v.GetInt("password.workers"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Security: SecurityConfig{
			InternalAPIKey: v.GetString("security.internal_api_key"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = postgresURL(
			v.GetString("postgres.user"),
			v.GetString("postgres.password"),
			v.GetString("postgres.host"),
			v.GetString("postgres.port"),
			v.GetString("postgres.db"),
		)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Server.BaseURL == "":
		return errors.New("server.base_url is required")
	case c.Keys.PrivateKeyPath == "" || c.Keys.PublicKeyPath == "":
		return errors.New("keys.private_key_path and keys.public_key_path are required")
	case c.Keys.KeyID == "":
		return errors.New("keys.key_id is required")
	case c.Token.TTL <= 0:
		return fmt.Errorf("token.ttl_seconds must be positive, got %s", c.Token.TTL)
	case c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost:
		return fmt.Errorf("password.bcrypt_cost must be within [%d, %d], got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Password.BcryptCost)
	case c.Password.Workers < 1:
		return fmt.Errorf("password.workers must be at least 1, got %d", c.Password.Workers)
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	return nil
}

func postgresURL(user, password, host, port, db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
