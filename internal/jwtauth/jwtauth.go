package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by any
	// additional accepted audiences. A token is accepted when its aud claim
	// names at least one of them.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Claims are the RFC 9068 claims of a verified access token.
type Claims struct {
	Subject   string
	Audience  []string
	ID        string // jti
	SessionID string // sid, when the issuer sets one
	ClientID  string // client_id, or azp as a fallback
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Metadata is the subset of authorization server metadata learned through
// discovery that a resource server advertises to clients.
type Metadata struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	ScopesSupported       []string
}

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, typ) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrExpired indicates an otherwise valid token whose exp has passed. It is
// reported alongside ErrUnauthorized.
var ErrExpired = errors.New("jwtauth: token expired")

// ErrDisallowedAlg indicates a token signed with an algorithm outside
// Config.AllowedAlgs. It wraps ErrUnauthorized.
var ErrDisallowedAlg = fmt.Errorf("%w: disallowed signing algorithm", ErrUnauthorized)

// ErrUnknownKey indicates a token whose kid names no key in the issuer's key
// set. It wraps ErrUnauthorized. Failures to fetch the key set are not
// ErrUnknownKey and are returned without ErrUnauthorized.
var ErrUnknownKey = fmt.Errorf("%w: unknown signing key", ErrUnauthorized)

// Verifier validates RFC 9068 JWT access tokens.
type Verifier struct {
	cfg     Config
	issuer  string
	keyfunc jwt.Keyfunc
	meta    Metadata
}

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer, and
// constructs a Verifier using the configured policies in Config. JWKS keys
// are auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		ResponseTypes []string `json:"response_types_supported"`
		Scopes        []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Authorization == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.Token == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(meta.ResponseTypes) == 0 {
		missing = append(missing, "response_types_supported")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	// Auto-refreshing JWKS
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	v := newVerifier(*cfg, meta.Issuer, requireKID(kf.Keyfunc))
	v.meta = Metadata{
		Issuer:                meta.Issuer,
		AuthorizationEndpoint: meta.Authorization,
		TokenEndpoint:         meta.Token,
		ScopesSupported:       append([]string(nil), meta.Scopes...),
	}
	return v, nil
}

func newVerifier(cfg Config, issuer string, kf jwt.Keyfunc) *Verifier {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	cfg.ExpectedAudiences = append([]string(nil), cfg.ExpectedAudiences...)
	return &Verifier{
		cfg:    cfg,
		issuer: issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("%w: %s", ErrDisallowedAlg, alg)
			}
			key, err := kf(t)
			if errors.Is(err, jwkset.ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrUnknownKey, err)
			}
			return key, err
		},
		meta: Metadata{Issuer: issuer},
	}
}

// Metadata returns the authorization server metadata known to v. Only Issuer
// is set for verifiers built without discovery.
func (v *Verifier) Metadata() Metadata {
	m := v.meta
	m.ScopesSupported = append([]string(nil), v.meta.ScopesSupported...)
	return m
}

// Verify checks the signature, typ header, issuer, audience and lifetime of
// tok and returns its claims. Validation failures wrap ErrUnauthorized; a
// failure to resolve the signing key does not.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithIssuedAt(),
	)

	parsed, err := parser.Parse(tok, v.keyfunc)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrExpired)
	case errors.Is(err, jwt.ErrTokenUnverifiable) && !errors.Is(err, ErrUnauthorized):
		// Key set unavailable.
		return nil, fmt.Errorf("jwtauth: resolving signing key: %w", err)
	default:
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	// Header checks (RFC 9068 typ)
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	out := &Claims{}
	out.Subject, _ = claims["sub"].(string)
	if out.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	out.ID, _ = claims["jti"].(string)
	out.SessionID, _ = claims["sid"].(string)
	out.ClientID, _ = claims["client_id"].(string)
	if out.ClientID == "" {
		out.ClientID, _ = claims["azp"].(string)
	}
	out.Scope, _ = claims["scope"].(string)
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}
