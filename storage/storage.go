// Package storage defines the token-store contract consumed by the bearer
// verifier, together with the access token and session records a store
// returns. Concrete stores live in the subpackages.
//
// A TokenLookup represents a connection the caller already holds: stores bind
// a caller-scoped handle (a transaction, a pooled connection, a pipeline) to a
// TokenLookup, and the verifier only ever calls LookupActiveAccessToken on it.
// Acquiring, committing and releasing that handle stays with the caller.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
)

// AccessToken is a stored access token record.
type AccessToken struct {
	ID        string     `json:"id"`
	Token     string     `json:"-"`
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Session is the authenticated session an access token was issued for.
type Session struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	ClientID   string            `json:"client_id"`
	Scope      oauth2types.Scope `json:"scope"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// TokenLookup resolves an access token string to its active record and
// session. Implementations return a *LookupError (or an error wrapping one)
// whose NotFound method reports whether the token was simply not usable.
type TokenLookup interface {
	LookupActiveAccessToken(ctx context.Context, token string) (*AccessToken, *Session, error)
}

// TokenLookupFunc adapts a function to TokenLookup.
type TokenLookupFunc func(ctx context.Context, token string) (*AccessToken, *Session, error)

func (f TokenLookupFunc) LookupActiveAccessToken(ctx context.Context, token string) (*AccessToken, *Session, error) {
	return f(ctx, token)
}

// Reason classifies a failed lookup.
type Reason int

const (
	// ReasonBackend is a store failure (connectivity, corruption, cancellation).
	ReasonBackend Reason = iota
	ReasonNotFound
	ReasonExpired
	ReasonRevoked
	ReasonSessionFinished
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "not_found"
	case ReasonExpired:
		return "expired"
	case ReasonRevoked:
		return "revoked"
	case ReasonSessionFinished:
		return "session_finished"
	default:
		return "backend"
	}
}

// LookupError is returned by TokenLookup implementations.
type LookupError struct {
	Reason Reason
	Err    error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage: access token lookup failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("storage: access token lookup failed (%s)", e.Reason)
}

func (e *LookupError) Unwrap() error { return e.Err }

// NotFound reports whether the token is unknown, inactive or expired, as
// opposed to the store being unable to answer.
func (e *LookupError) NotFound() bool { return e.Reason != ReasonBackend }

// NotFound returns a LookupError for an unusable token.
func NotFound(reason Reason) *LookupError {
	if reason == ReasonBackend {
		reason = ReasonNotFound
	}
	return &LookupError{Reason: reason}
}

// Backend wraps a store failure.
func Backend(err error) *LookupError {
	return &LookupError{Reason: ReasonBackend, Err: err}
}

// IsNotFound reports whether err carries a LookupError that is NotFound.
func IsNotFound(err error) bool {
	var le *LookupError
	return errors.As(err, &le) && le.NotFound()
}

// Active checks the lifetime of a token and its session at now. It returns
// nil or a NotFound LookupError; stores call it after loading both records.
func Active(tok *AccessToken, sess *Session, now time.Time) error {
	switch {
	case tok.RevokedAt != nil && !tok.RevokedAt.After(now):
		return NotFound(ReasonRevoked)
	case !tok.ExpiresAt.IsZero() && !now.Before(tok.ExpiresAt):
		return NotFound(ReasonExpired)
	case sess.FinishedAt != nil && !sess.FinishedAt.After(now):
		return NotFound(ReasonSessionFinished)
	}
	return nil
}

// HashToken returns the hex SHA-256 of a token. Persistent stores key records
// by this value so raw tokens are never written.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
