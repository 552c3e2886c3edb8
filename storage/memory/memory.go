// Package memory provides an in-process token store. It is meant for tests,
// development and small deployments whose tokens are provisioned from a JSON
// seed file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ggoodman/oauth2-bearer-go/metrics"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

const storeName = "memory"

// ErrUnknownToken is returned by Revoke for a token the store never saw.
var ErrUnknownToken = errors.New("memory: unknown token")

// ErrUnknownSession is returned by FinishSession for an unknown session id.
var ErrUnknownSession = errors.New("memory: unknown session")

// Store implements storage.TokenLookup over maps guarded by a RWMutex. The
// zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]*storage.AccessToken // keyed by storage.HashToken
	sessions map[string]*storage.Session

	now    func() time.Time
	logger *slog.Logger
}

var _ storage.TokenLookup = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used by Watch.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tokens:   make(map[string]*storage.AccessToken),
		sessions: make(map[string]*storage.Session),
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores tok and the session it belongs to. Empty ids are generated and
// zero CreatedAt values are set to the current time. The stored copies are
// returned.
func (s *Store) Put(tok storage.AccessToken, sess storage.Session) (*storage.AccessToken, *storage.Session, error) {
	if tok.Token == "" {
		return nil, nil, errors.New("memory: empty token")
	}
	now := s.now()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = now
	}
	tok.SessionID = sess.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[storage.HashToken(tok.Token)] = &tok
	s.sessions[sess.ID] = &sess
	return cloneToken(&tok), cloneSession(&sess), nil
}

// Issue mints a random token for a new session and stores both.
func (s *Store) Issue(userID, clientID string, scope oauth2types.Scope, ttl time.Duration) (string, *storage.Session, error) {
	token := uuid.NewString()
	now := s.now()
	_, sess, err := s.Put(
		storage.AccessToken{Token: token, CreatedAt: now, ExpiresAt: now.Add(ttl)},
		storage.Session{UserID: userID, ClientID: clientID, Scope: scope, CreatedAt: now},
	)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Revoke marks token revoked as of now.
func (s *Store) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[storage.HashToken(token)]
	if !ok {
		return ErrUnknownToken
	}
	now := s.now()
	tok.RevokedAt = &now
	return nil
}

// FinishSession ends a session, deactivating every token issued for it.
func (s *Store) FinishSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	now := s.now()
	sess.FinishedAt = &now
	return nil
}

func (s *Store) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	start := time.Now()
	tok, sess, err := s.lookup(ctx, token)
	metrics.LookupDuration.WithLabelValues(storeName, metrics.LookupResult(err, storage.IsNotFound(err))).
		Observe(time.Since(start).Seconds())
	return tok, sess, err
}

func (s *Store) lookup(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Backend(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[storage.HashToken(token)]
	if !ok {
		return nil, nil, storage.NotFound(storage.ReasonNotFound)
	}
	sess, ok := s.sessions[tok.SessionID]
	if !ok {
		return nil, nil, storage.Backend(fmt.Errorf("memory: token %s references missing session %s", tok.ID, tok.SessionID))
	}
	if err := storage.Active(tok, sess, s.now()); err != nil {
		return nil, nil, err
	}
	return cloneToken(tok), cloneSession(sess), nil
}

// Record is one entry of a seed file.
type Record struct {
	Token     string              `json:"token"`
	SessionID string              `json:"session_id,omitempty"`
	UserID    string              `json:"user_id"`
	ClientID  string              `json:"client_id"`
	Scope     oauth2types.Scope   `json:"scope"`
	ExpiresIn oauth2types.Seconds `json:"expires_in,omitempty"`
	Revoked   bool                `json:"revoked,omitempty"`
}

// LoadFile replaces the store's contents with the records in a JSON seed
// file. A record without expires_in never expires. On error the store is left
// unchanged.
func (s *Store) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("memory: reading seed file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		return fmt.Errorf("memory: decoding seed file %s: %w", path, err)
	}

	now := s.now()
	tokens := make(map[string]*storage.AccessToken, len(records))
	sessions := make(map[string]*storage.Session, len(records))
	for i, rec := range records {
		if rec.Token == "" {
			return fmt.Errorf("memory: seed record %d has no token", i)
		}
		sid := rec.SessionID
		if sid == "" {
			sid = uuid.NewString()
		}
		if _, ok := sessions[sid]; !ok {
			sessions[sid] = &storage.Session{
				ID:        sid,
				UserID:    rec.UserID,
				ClientID:  rec.ClientID,
				Scope:     rec.Scope,
				CreatedAt: now,
			}
		}
		tok := &storage.AccessToken{
			ID:        uuid.NewString(),
			Token:     rec.Token,
			SessionID: sid,
			CreatedAt: now,
		}
		if rec.ExpiresIn > 0 {
			tok.ExpiresAt = now.Add(rec.ExpiresIn.Duration())
		}
		if rec.Revoked {
			tok.RevokedAt = &now
		}
		tokens[storage.HashToken(rec.Token)] = tok
	}

	s.mu.Lock()
	s.tokens = tokens
	s.sessions = sessions
	s.mu.Unlock()
	return nil
}

// Watch loads path and reloads it whenever it is written or recreated, until
// ctx is done. The parent directory is watched so editors that save by
// renaming a temp file are picked up. Reload failures are logged and the
// previous contents kept.
func (s *Store) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := s.LoadFile(abs); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("memory: creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("memory: watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := s.LoadFile(abs); err != nil {
				s.logger.ErrorContext(ctx, "memory.seed.reload.fail", slog.String("path", abs), slog.String("err", err.Error()))
				continue
			}
			s.logger.InfoContext(ctx, "memory.seed.reload.ok", slog.String("path", abs))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.ErrorContext(ctx, "memory.watch.fail", slog.String("err", err.Error()))
		}
	}
}

func cloneToken(t *storage.AccessToken) *storage.AccessToken {
	c := *t
	if t.RevokedAt != nil {
		r := *t.RevokedAt
		c.RevokedAt = &r
	}
	return &c
}

func cloneSession(s *storage.Session) *storage.Session {
	c := *s
	if s.Scope != nil {
		c.Scope = oauth2types.NewScope(s.Scope.Tokens()...)
	}
	if s.FinishedAt != nil {
		f := *s.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}
