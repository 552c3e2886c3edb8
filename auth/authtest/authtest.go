// Package authtest provides an in-process token store and request builders
// for exercising code built on package auth.
package authtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

// StaticLookup is a storage.TokenLookup backed by a fixed map. The zero value
// knows no tokens.
type StaticLookup struct {
	mu     sync.Mutex
	tokens map[string]entry
	err    error
	calls  atomic.Int64
}

type entry struct {
	tok  *storage.AccessToken
	sess *storage.Session
}

var _ storage.TokenLookup = (*StaticLookup)(nil)

// NewStaticLookup returns an empty StaticLookup.
func NewStaticLookup() *StaticLookup {
	return &StaticLookup{}
}

// Add registers token as active for a session owned by userID with the given
// scope, and returns that session.
func (s *StaticLookup) Add(token, userID string, scope ...string) *storage.Session {
	now := time.Now()
	sess := &storage.Session{
		ID:        "sess-" + userID,
		UserID:    userID,
		ClientID:  "authtest",
		Scope:     oauth2types.NewScope(scope...),
		CreatedAt: now,
	}
	tok := &storage.AccessToken{
		ID:        "tok-" + userID,
		Token:     token,
		SessionID: sess.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]entry)
	}
	s.tokens[token] = entry{tok: tok, sess: sess}
	return sess
}

// FailWith makes every subsequent lookup return err. Pass nil to restore
// normal behavior.
func (s *StaticLookup) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls reports how many lookups have been made.
func (s *StaticLookup) Calls() int {
	return int(s.calls.Load())
}

func (s *StaticLookup) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Backend(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, nil, s.err
	}
	e, ok := s.tokens[token]
	if !ok {
		return nil, nil, storage.NotFound(storage.ReasonNotFound)
	}
	return e.tok, e.sess, nil
}

// NewBearerRequest builds a GET request carrying token in the Authorization
// header.
func NewBearerRequest(target, token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// NewFormRequest builds a form-encoded POST request with the given fields.
func NewFormRequest(target string, values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}
