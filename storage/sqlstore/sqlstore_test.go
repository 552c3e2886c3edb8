package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func insert(t *testing.T, s *Store, q Querier, token, sessionID string, ttl time.Duration) {
	t.Helper()
	err := s.Insert(context.Background(), q,
		storage.AccessToken{Token: token, CreatedAt: base, ExpiresAt: base.Add(ttl)},
		storage.Session{ID: sessionID, UserID: "alice", ClientID: "cli", Scope: oauth2types.NewScope("notes:read", "notes:write"), CreatedAt: base},
	)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
}

func TestLookup(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return base.Add(time.Minute) }
	insert(t, s, s.DB(), "abc123", "s1", time.Hour)

	tok, sess, err := s.LookupActiveAccessToken(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("LookupActiveAccessToken() failed: %v", err)
	}

	want := &storage.Session{
		ID:        "s1",
		UserID:    "alice",
		ClientID:  "cli",
		Scope:     oauth2types.NewScope("notes:read", "notes:write"),
		CreatedAt: base,
	}
	if diff := cmp.Diff(want, sess); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
	if tok.Token != "abc123" || tok.SessionID != "s1" || !tok.ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected token: %+v", tok)
	}

	var stored string
	if err := s.DB().QueryRow(`SELECT token_hash FROM access_tokens`).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored != storage.HashToken("abc123") {
		t.Errorf("stored %q, want hash of token", stored)
	}
}

func TestLookupReasons(t *testing.T) {
	s := newTestStore(t)
	now := base
	s.now = func() time.Time { return now }
	ctx := context.Background()

	insert(t, s, s.DB(), "expiring", "s1", time.Minute)
	insert(t, s, s.DB(), "revoked", "s2", time.Hour)
	insert(t, s, s.DB(), "finished", "s3", time.Hour)

	now = base.Add(2 * time.Minute)
	if err := s.Revoke(ctx, s.DB(), "revoked"); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishSession(ctx, s.DB(), "s3"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		token  string
		reason storage.Reason
	}{
		{"unknown", "nope", storage.ReasonNotFound},
		{"expired", "expiring", storage.ReasonExpired},
		{"revoked", "revoked", storage.ReasonRevoked},
		{"session finished", "finished", storage.ReasonSessionFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.LookupActiveAccessToken(ctx, tt.token)
			var le *storage.LookupError
			if !errors.As(err, &le) {
				t.Fatalf("expected *storage.LookupError, got %v", err)
			}
			if le.Reason != tt.reason || !le.NotFound() {
				t.Errorf("reason = %v, want %v", le.Reason, tt.reason)
			}
		})
	}

	if err := s.Revoke(ctx, s.DB(), "revoked"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("second Revoke() = %v, want ErrUnknownToken", err)
	}
	if err := s.FinishSession(ctx, s.DB(), "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("FinishSession() = %v, want ErrUnknownSession", err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, s.DB(), "abc123", "s1", time.Hour)
	err := s.Insert(context.Background(), s.DB(), storage.AccessToken{Token: "abc123"}, storage.Session{ID: "s1"})
	if !errors.Is(err, ErrDuplicateToken) {
		t.Errorf("Insert() = %v, want ErrDuplicateToken", err)
	}
}

func TestConnInTransaction(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return base }
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := WithTx(ctx, s.DB(), func(tx *sql.Tx) error {
		insert(t, s, tx, "pending", "s1", time.Hour)
		if _, _, err := s.Conn(tx).LookupActiveAccessToken(ctx, "pending"); err != nil {
			t.Errorf("token not visible inside its transaction: %v", err)
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("WithTx() = %v, want errAbort", err)
	}
	if _, _, err := s.LookupActiveAccessToken(ctx, "pending"); !storage.IsNotFound(err) {
		t.Errorf("rolled back token still visible: %v", err)
	}

	err = WithTx(ctx, s.DB(), func(tx *sql.Tx) error {
		insert(t, s, tx, "committed", "s2", time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() = %v", err)
	}
	if _, _, err := s.LookupActiveAccessToken(ctx, "committed"); err != nil {
		t.Errorf("committed token not visible: %v", err)
	}
}

func TestLookupBackendFailure(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, s.DB(), "abc123", "s1", time.Hour)
	_ = s.DB().Close()

	_, _, err := s.LookupActiveAccessToken(context.Background(), "abc123")
	if err == nil || storage.IsNotFound(err) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := Migrate(context.Background(), s.DB()); err != nil {
		t.Errorf("second Migrate() failed: %v", err)
	}
}
