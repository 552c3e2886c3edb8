package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ggoodman/oauth2-bearer-go/challenge"
	"github.com/ggoodman/oauth2-bearer-go/config"
	"github.com/ggoodman/oauth2-bearer-go/internal/wellknown"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage/memory"
)

type fixture struct {
	srv      *httptest.Server
	readOnly string
	writer   string
}

func newFixture(t *testing.T, mod func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Realm:        "notes",
		ResourceURL:  "https://api.example/v1",
		MaxFormBytes: 1 << 10,
		Store:        config.StoreMemory,
	}
	if mod != nil {
		mod(cfg)
	}

	mem := memory.New()
	readOnly, _, err := mem.Issue("alice", "cli", oauth2types.NewScope(scopeNotesRead), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	writer, _, err := mem.Issue("bob", "cli", oauth2types.NewScope(scopeNotesRead, scopeNotesWrite), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st := &tokenStore{name: config.StoreMemory, lookup: mem, scopes: demoScopes, close: func() error { return nil }}

	h, err := newServer(cfg, st, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newServer() failed: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, readOnly: readOnly, writer: writer}
}

func (f *fixture) do(t *testing.T, method, path, token string, form url.Values) *http.Response {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func parseChallenge(t *testing.T, res *http.Response) challenge.Challenge {
	t.Helper()
	c, err := challenge.Parse(res.Header.Get("WWW-Authenticate"))
	if err != nil {
		t.Fatalf("challenge.Parse(%q) failed: %v", res.Header.Get("WWW-Authenticate"), err)
	}
	return c
}

func TestWhoami(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodGet, "/whoami", f.writer, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	var got map[string]any
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["user_id"] != "bob" || got["scope"] != "notes:read notes:write" {
		t.Errorf("unexpected body: %v", got)
	}
	if _, ok := got["session_age"].(float64); !ok {
		t.Errorf("session_age missing or not a number: %v", got)
	}
}

func TestWhoami_Challenges(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodGet, "/whoami", "", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	c := parseChallenge(t, res)
	if c.Realm != "notes" || c.ResourceMetadata != "https://api.example/.well-known/oauth-protected-resource/v1" {
		t.Errorf("unexpected challenge: %+v", c)
	}

	res = f.do(t, http.MethodGet, "/whoami", "unknown-token", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	if c := parseChallenge(t, res); c.Error != challenge.CodeInvalidToken {
		t.Errorf("error = %q, want invalid_token", c.Error)
	}
}

func TestNotes(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodPost, "/notes", "", url.Values{"access_token": {f.writer}, "text": {" hello "}, "tag": {"a", "b"}})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", res.StatusCode)
	}
	var created note
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Text != "hello" || res.Header.Get("Location") != "/notes/"+created.ID {
		t.Errorf("unexpected note %+v (Location %q)", created, res.Header.Get("Location"))
	}

	res = f.do(t, http.MethodGet, "/notes", f.writer, nil)
	var listed []note
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]note{created}, listed); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}

	res = f.do(t, http.MethodGet, "/notes", f.readOnly, nil)
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Errorf("alice sees bob's notes: %v", listed)
	}
}

func TestNotes_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		token  string
		form   url.Values
		status int
		code   challenge.ErrorCode
		scope  string
	}{
		{"read-only token", f.readOnly, url.Values{"text": {"x"}}, http.StatusForbidden, challenge.CodeInsufficientScope, scopeNotesWrite},
		{"missing text", f.writer, url.Values{}, http.StatusBadRequest, challenge.CodeInvalidRequest, ""},
		{"blank text", f.writer, url.Values{"text": {"  "}}, http.StatusBadRequest, challenge.CodeInvalidRequest, ""},
		{"repeated text", f.writer, url.Values{"text": {"a", "b"}}, http.StatusBadRequest, challenge.CodeInvalidRequest, ""},
		{"oversized body", f.writer, url.Values{"text": {strings.Repeat("x", 2<<10)}}, http.StatusBadRequest, challenge.CodeInvalidRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(t, http.MethodPost, "/notes", tt.token, tt.form)
			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			c := parseChallenge(t, res)
			if c.Error != tt.code || c.Scope != tt.scope {
				t.Errorf("challenge = %+v, want error %q scope %q", c, tt.code, tt.scope)
			}
		})
	}
}

func TestQueryToken(t *testing.T) {
	off := newFixture(t, nil)
	if res := off.do(t, http.MethodGet, "/whoami?access_token="+off.writer, "", nil); res.StatusCode != http.StatusBadRequest {
		t.Errorf("query token accepted while disabled: %d", res.StatusCode)
	}

	on := newFixture(t, func(c *config.Config) { c.AllowQueryToken = true })
	if res := on.do(t, http.MethodGet, "/whoami?access_token="+on.writer, "", nil); res.StatusCode != http.StatusOK {
		t.Errorf("query token rejected while enabled: %d", res.StatusCode)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AllowQueryToken = true })

	res := f.do(t, http.MethodGet, "/.well-known/oauth-protected-resource/v1", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var doc wellknown.ProtectedResourceMetadata
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	want := wellknown.ProtectedResourceMetadata{
		Resource:               "https://api.example/v1",
		ScopesSupported:        []string{scopeNotesRead, scopeNotesWrite},
		BearerMethodsSupported: []string{"header", "body", "query"},
		ResourceName:           "bearerdemo",
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/whoami", f.writer, nil)

	res := f.do(t, http.MethodGet, "/metrics", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := res.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(sb.String(), "bearer_verifications_total") {
		t.Error("verification counter not exported")
	}
}
