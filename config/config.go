// Package config loads the settings of a bearer-protected resource server
// from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Token store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreJWT    = "jwt"
)

// Config for the demo server. Defaults are provided via struct tags.
type Config struct {
	// ListenAddr like ":8080". ENV: BEARER_LISTEN_ADDR
	ListenAddr string `env:"BEARER_LISTEN_ADDR,default=:8080"`
	// Realm advertised in every challenge. ENV: BEARER_REALM
	Realm string `env:"BEARER_REALM"`
	// ResourceURL is this server's RFC 9728 resource identifier, advertised
	// through resource_metadata in every challenge. ENV: BEARER_RESOURCE_URL
	ResourceURL string `env:"BEARER_RESOURCE_URL,default=http://localhost:8080"`
	// MaxFormBytes caps form body reads. ENV: BEARER_MAX_FORM_BYTES
	MaxFormBytes int64 `env:"BEARER_MAX_FORM_BYTES,default=1048576"`
	// AllowQueryToken accepts access_token in the URI query. ENV: BEARER_ALLOW_QUERY_TOKEN
	AllowQueryToken bool `env:"BEARER_ALLOW_QUERY_TOKEN,default=false"`
	// ExposeInternalErrors echoes internal error causes to clients. ENV: BEARER_EXPOSE_INTERNAL_ERRORS
	ExposeInternalErrors bool `env:"BEARER_EXPOSE_INTERNAL_ERRORS,default=false"`
	// ShutdownTimeout bounds graceful shutdown. ENV: BEARER_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `env:"BEARER_SHUTDOWN_TIMEOUT,default=10s"`

	// Store selects the token store backend. ENV: BEARER_STORE
	Store string `env:"BEARER_STORE,default=memory"`
	// SeedFile is the memory store's JSON seed, watched for changes. ENV: BEARER_SEED_FILE
	SeedFile string `env:"BEARER_SEED_FILE"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisPrefix for all keys. ENV: BEARER_REDIS_PREFIX
	RedisPrefix string `env:"BEARER_REDIS_PREFIX,default=bearer:"`
	// SQLiteDSN for the sqlite store. ENV: BEARER_SQLITE_DSN
	SQLiteDSN string `env:"BEARER_SQLITE_DSN,default=file:bearer.db"`
	// OIDCIssuer for the jwt store. ENV: OIDC_ISSUER
	OIDCIssuer string `env:"OIDC_ISSUER"`
	// OIDCAudience lists accepted audiences, comma separated. ENV: OIDC_AUDIENCE
	OIDCAudience string `env:"OIDC_AUDIENCE"`
	// OIDCJWKSURL skips discovery for the jwt store. ENV: OIDC_JWKS_URL
	OIDCJWKSURL string `env:"OIDC_JWKS_URL"`
}

// Load populates a Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Audiences splits OIDCAudience.
func (c *Config) Audiences() []string {
	var out []string
	for _, a := range strings.Split(c.OIDCAudience, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks store-specific requirements.
func (c *Config) Validate() error {
	if c.MaxFormBytes <= 0 {
		return fmt.Errorf("config: BEARER_MAX_FORM_BYTES must be positive, got %d", c.MaxFormBytes)
	}
	if c.ResourceURL == "" {
		return errors.New("config: BEARER_RESOURCE_URL must not be empty")
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR required for the redis store")
		}
	case StoreSQLite:
		if c.SQLiteDSN == "" {
			return errors.New("config: BEARER_SQLITE_DSN required for the sqlite store")
		}
	case StoreJWT:
		if c.OIDCIssuer == "" {
			return errors.New("config: OIDC_ISSUER required for the jwt store")
		}
		if len(c.Audiences()) == 0 {
			return errors.New("config: OIDC_AUDIENCE required for the jwt store")
		}
	default:
		return fmt.Errorf("config: unknown BEARER_STORE %q", c.Store)
	}
	return nil
}
