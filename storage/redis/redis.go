// Package redis provides a Redis-backed token store.
//
// Access tokens live under <prefix>at:<sha256(token)> with a TTL matching
// their remaining lifetime; sessions live under <prefix>session:<id>. Both
// values are JSON.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/oauth2-bearer-go/metrics"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

const storeName = "redis"

// Config for the Redis store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: BEARER_REDIS_PREFIX
	KeyPrefix string `env:"BEARER_REDIS_PREFIX,default=bearer:"`
}

// Store implements storage.TokenLookup on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.TokenLookup = (*Store)(nil)

// New connects to cfg.RedisAddr and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix), nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	return New(ctx, cfg)
}

// NewWithClient wraps an existing client. The Store takes ownership of it
// and closes it in Close.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "bearer:"
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) tokenKey(token string) string { return s.prefix + "at:" + storage.HashToken(token) }

func (s *Store) sessionKey(id string) string { return s.prefix + "session:" + id }

// Put writes a session and an access token issued for it. The token key
// expires with the token; a token already past its expiry is rejected.
func (s *Store) Put(ctx context.Context, tok storage.AccessToken, sess storage.Session) error {
	if tok.Token == "" || sess.ID == "" {
		return errors.New("redis: token and session id are required")
	}
	tok.SessionID = sess.ID

	var ttl time.Duration
	if !tok.ExpiresAt.IsZero() {
		ttl = tok.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return errors.New("redis: token already expired")
		}
	}

	tb, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("redis: encoding token: %w", err)
	}
	sb, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: encoding session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(sess.ID), sb, 0)
		p.Set(ctx, s.tokenKey(tok.Token), tb, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: writing token: %w", err)
	}
	return nil
}

// Revoke deletes token. Deleting an unknown token is not an error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("redis: revoking token: %w", err)
	}
	return nil
}

// FinishSession deletes a session; tokens still referencing it stop
// verifying.
func (s *Store) FinishSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: finishing session: %w", err)
	}
	return nil
}

// LookupActiveAccessToken looks token up on the store's own client.
func (s *Store) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	return s.Conn(s.client).LookupActiveAccessToken(ctx, token)
}

// Conn binds the store to a caller-held handle, typically the *redis.Tx of a
// WATCH transaction or a client pinned by the caller. Commands on c must
// execute immediately, so a Pipeliner is not a valid handle.
func (s *Store) Conn(c redis.Cmdable) storage.TokenLookup {
	return &conn{store: s, c: c}
}

type conn struct {
	store *Store
	c     redis.Cmdable
}

func (c *conn) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	start := time.Now()
	tok, sess, err := c.lookup(ctx, token)
	metrics.LookupDuration.WithLabelValues(storeName, metrics.LookupResult(err, storage.IsNotFound(err))).
		Observe(time.Since(start).Seconds())
	return tok, sess, err
}

func (c *conn) lookup(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	var tok storage.AccessToken
	switch found, err := c.getJSON(ctx, c.store.tokenKey(token), &tok); {
	case err != nil:
		return nil, nil, storage.Backend(err)
	case !found:
		return nil, nil, storage.NotFound(storage.ReasonNotFound)
	}
	tok.Token = token

	var sess storage.Session
	switch found, err := c.getJSON(ctx, c.store.sessionKey(tok.SessionID), &sess); {
	case err != nil:
		return nil, nil, storage.Backend(err)
	case !found:
		return nil, nil, storage.NotFound(storage.ReasonSessionFinished)
	}

	if err := storage.Active(&tok, &sess, c.store.now()); err != nil {
		return nil, nil, err
	}
	return &tok, &sess, nil
}

func (c *conn) getJSON(ctx context.Context, key string, v any) (bool, error) {
	b, err := c.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
