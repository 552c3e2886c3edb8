// Package jwtstore verifies self-contained RFC 9068 JWT access tokens. It
// satisfies storage.TokenLookup without a database: the token's signature and
// claims are the record, and the session is derived from them.
package jwtstore

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/oauth2-bearer-go/internal/jwtauth"
	"github.com/ggoodman/oauth2-bearer-go/metrics"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

const storeName = "jwt"

// Store implements storage.TokenLookup for JWT access tokens.
type Store struct {
	v   *jwtauth.Verifier
	cfg Config
}

var _ storage.TokenLookup = (*Store)(nil)

// New builds a Store from cfg. Signing keys come from cfg.JWKSURL when set and
// from OIDC discovery on cfg.Issuer otherwise; either way they are refreshed
// in the background for as long as ctx lives.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cc := cfg.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}

	jc := &jwtauth.Config{
		Issuer:            cc.Issuer,
		ExpectedAudiences: cc.Audiences,
		AllowedAlgs:       cc.AllowedAlgs,
		Leeway:            cc.Leeway,
	}
	var (
		v   *jwtauth.Verifier
		err error
	)
	if cc.JWKSURL != "" {
		v, err = jwtauth.NewStatic(ctx, jc, cc.JWKSURL)
	} else {
		v, err = jwtauth.NewFromDiscovery(ctx, jc)
	}
	if err != nil {
		return nil, err
	}
	return &Store{v: v, cfg: cc}, nil
}

// NewWithKeyfunc builds a Store whose signing keys are resolved by kf.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (*Store, error) {
	cc := cfg.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	v, err := jwtauth.NewWithKeyfunc(&jwtauth.Config{
		Issuer:            cc.Issuer,
		ExpectedAudiences: cc.Audiences,
		AllowedAlgs:       cc.AllowedAlgs,
		Leeway:            cc.Leeway,
	}, kf)
	if err != nil {
		return nil, err
	}
	return &Store{v: v, cfg: cc}, nil
}

// Config returns a copy of the effective configuration.
func (s *Store) Config() Config { return s.cfg.Copy() }

// AuthorizationServers lists the issuer trusted by the store, for RFC 9728
// protected resource metadata.
func (s *Store) AuthorizationServers() []string {
	return []string{s.v.Metadata().Issuer}
}

// ScopesSupported returns the scopes advertised by the issuer's discovery
// document, if any.
func (s *Store) ScopesSupported() []string {
	return s.v.Metadata().ScopesSupported
}

func (s *Store) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	start := time.Now()
	tok, sess, err := s.lookup(ctx, token)
	metrics.LookupDuration.WithLabelValues(storeName, metrics.LookupResult(err, storage.IsNotFound(err))).
		Observe(time.Since(start).Seconds())
	return tok, sess, err
}

func (s *Store) lookup(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	claims, err := s.v.Verify(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, jwtauth.ErrExpired):
		return nil, nil, &storage.LookupError{Reason: storage.ReasonExpired, Err: err}
	case errors.Is(err, jwtauth.ErrUnauthorized):
		return nil, nil, &storage.LookupError{Reason: storage.ReasonNotFound, Err: err}
	default:
		return nil, nil, storage.Backend(err)
	}

	id := claims.ID
	if id == "" {
		id = storage.HashToken(token)
	}
	sid := claims.SessionID
	if sid == "" {
		sid = id
	}

	tok := &storage.AccessToken{
		ID:        id,
		Token:     token,
		SessionID: sid,
		CreatedAt: claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
	sess := &storage.Session{
		ID:        sid,
		UserID:    claims.Subject,
		ClientID:  claims.ClientID,
		Scope:     oauth2types.ParseScope(claims.Scope),
		CreatedAt: claims.IssuedAt,
	}
	return tok, sess, nil
}
