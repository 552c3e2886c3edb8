// Package sqlstore keeps access tokens and sessions in SQLite.
//
// Tokens are stored by their SHA-256 hash. The schema is managed with goose
// migrations embedded in the package and applied by Open and New.
//
// The store never begins or ends transactions on its own behalf during a
// lookup: Conn binds a lookup to whatever Querier the caller already holds,
// so verification can run inside the caller's transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ggoodman/oauth2-bearer-go/metrics"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

const storeName = "sqlite"

var (
	// ErrDuplicateToken is returned by Insert when the token already exists.
	ErrDuplicateToken = errors.New("sqlstore: token already exists")
	// ErrUnknownToken is returned by Revoke for a token that does not exist
	// or is already revoked.
	ErrUnknownToken = errors.New("sqlstore: unknown token")
	// ErrUnknownSession is returned by FinishSession for an unknown or
	// already finished session.
	ErrUnknownSession = errors.New("sqlstore: unknown session")
)

// Querier is the subset of *sql.DB, *sql.Tx and *sql.Conn the store needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*sql.Conn)(nil)
)

// Store implements storage.TokenLookup on a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.TokenLookup = (*Store)(nil)

// Open opens the SQLite database at dsn and migrates it. Foreign keys are
// enabled and a busy timeout set on every connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening database: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database and migrates it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// DB returns the underlying database, for callers that manage their own
// transactions.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in a transaction on db, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: committing transaction: %w", err)
	}
	return nil
}

// Insert stores a session, if not already present, and an access token
// issued for it. Empty ids are generated.
func (s *Store) Insert(ctx context.Context, q Querier, tok storage.AccessToken, sess storage.Session) error {
	if tok.Token == "" {
		return errors.New("sqlstore: empty token")
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

	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, client_id, scope, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.UserID, sess.ClientID, sess.Scope.String(),
		toMicros(sess.CreatedAt), nullMicros(sess.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting session: %w", err)
	}

	var expires *time.Time
	if !tok.ExpiresAt.IsZero() {
		expires = &tok.ExpiresAt
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO access_tokens (id, token_hash, session_id, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tok.ID, storage.HashToken(tok.Token), sess.ID,
		toMicros(tok.CreatedAt), nullMicros(expires), nullMicros(tok.RevokedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("sqlstore: inserting token: %w", err)
	}
	return nil
}

// Revoke marks token revoked as of now.
func (s *Store) Revoke(ctx context.Context, q Querier, token string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE access_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		toMicros(s.now()), storage.HashToken(token),
	)
	return checkUpdated(res, err, ErrUnknownToken)
}

// FinishSession ends a session as of now.
func (s *Store) FinishSession(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		toMicros(s.now()), id,
	)
	return checkUpdated(res, err, ErrUnknownSession)
}

func checkUpdated(res sql.Result, err, none error) error {
	if err != nil {
		return fmt.Errorf("sqlstore: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

// LookupActiveAccessToken looks token up on the store's own pool.
func (s *Store) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	return s.Conn(s.db).LookupActiveAccessToken(ctx, token)
}

// Conn binds the store to a caller-held Querier, usually a *sql.Tx.
func (s *Store) Conn(q Querier) storage.TokenLookup {
	return &conn{store: s, q: q}
}

type conn struct {
	store *Store
	q     Querier
}

func (c *conn) LookupActiveAccessToken(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	start := time.Now()
	tok, sess, err := c.lookup(ctx, token)
	metrics.LookupDuration.WithLabelValues(storeName, metrics.LookupResult(err, storage.IsNotFound(err))).
		Observe(time.Since(start).Seconds())
	return tok, sess, err
}

const lookupQuery = `
	SELECT t.id, t.session_id, t.created_at, t.expires_at, t.revoked_at,
	       s.user_id, s.client_id, s.scope, s.created_at, s.finished_at
	FROM access_tokens t
	JOIN sessions s ON s.id = t.session_id
	WHERE t.token_hash = ?`

func (c *conn) lookup(ctx context.Context, token string) (*storage.AccessToken, *storage.Session, error) {
	tok := storage.AccessToken{Token: token}
	var sess storage.Session
	var scope string
	var tokCreated, sessCreated int64
	var expires, revoked, finished sql.NullInt64
	err := c.q.QueryRowContext(ctx, lookupQuery, storage.HashToken(token)).Scan(
		&tok.ID, &tok.SessionID, &tokCreated, &expires, &revoked,
		&sess.UserID, &sess.ClientID, &scope, &sessCreated, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, storage.NotFound(storage.ReasonNotFound)
	}
	if err != nil {
		return nil, nil, storage.Backend(fmt.Errorf("sqlstore: lookup: %w", err))
	}

	sess.ID = tok.SessionID
	sess.Scope = oauth2types.ParseScope(scope)
	sess.CreatedAt = fromMicros(sessCreated)
	sess.FinishedAt = fromNullMicros(finished)
	tok.CreatedAt = fromMicros(tokCreated)
	if expires.Valid {
		tok.ExpiresAt = fromMicros(expires.Int64)
	}
	tok.RevokedAt = fromNullMicros(revoked)

	if err := storage.Active(&tok, &sess, c.store.now()); err != nil {
		return nil, nil, err
	}
	return &tok, &sess, nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func fromNullMicros(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMicros(n.Int64)
	return &t
}

// isUniqueViolation checks for a SQLite UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
