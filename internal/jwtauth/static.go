package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// NewStatic constructs a Verifier against a statically configured issuer,
// audiences and JWKS URI (no discovery).
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*Verifier, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if err := checkStatic(cfg); err != nil {
		return nil, err
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newVerifier(*cfg, cfg.Issuer, requireKID(kf.Keyfunc)), nil
}

// requireKID rejects tokens without a kid before a JWKS-backed keyfunc sees
// them.
func requireKID(kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKey)
		}
		return kf(t)
	}
}

// NewWithKeyfunc constructs a Verifier that resolves signing keys with kf,
// for keys provisioned out of band.
func NewWithKeyfunc(cfg *Config, kf jwt.Keyfunc) (*Verifier, error) {
	if kf == nil {
		return nil, errors.New("keyfunc required")
	}
	if err := checkStatic(cfg); err != nil {
		return nil, err
	}
	return newVerifier(*cfg, cfg.Issuer, kf), nil
}

func checkStatic(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return errors.New("at least one expected audience required")
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	return nil
}

// audIntersects reports whether the aud claim, a string or an array of
// strings, names any of wants.
func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []string:
		return slices.ContainsFunc(v, func(s string) bool { return slices.Contains(wants, s) })
	case []any:
		return slices.ContainsFunc(v, func(e any) bool {
			s, ok := e.(string)
			return ok && slices.Contains(wants, s)
		})
	}
	return false
}
