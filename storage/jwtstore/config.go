package jwtstore

import (
	"errors"
	"time"
)

// Config describes how JWT access tokens are validated. Issuer and at least
// one audience are required. When JWKSURL is empty the signing keys are
// located through OIDC discovery on Issuer.
type Config struct {
	Issuer      string
	Audiences   []string
	AllowedAlgs []string // default: ["RS256"] if empty
	JWKSURL     string   // optional; skips discovery

	Leeway time.Duration // clock skew tolerance (default 60s)
}

// Normalize fills defaults.
func (c *Config) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("jwtstore: issuer required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("jwtstore: at least one audience required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("jwtstore: empty audience entry")
		}
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c Config) Copy() Config {
	dup := c
	dup.Audiences = append([]string(nil), c.Audiences...)
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	return dup
}
