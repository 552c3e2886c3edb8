package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggoodman/oauth2-bearer-go/auth"
	"github.com/ggoodman/oauth2-bearer-go/config"
	"github.com/ggoodman/oauth2-bearer-go/internal/logctx"
	"github.com/ggoodman/oauth2-bearer-go/internal/wellknown"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
)

const (
	scopeNotesRead  = "notes:read"
	scopeNotesWrite = "notes:write"

	maxNoteLength = 4096
)

func newServer(cfg *config.Config, st *tokenStore, logger *slog.Logger) (http.Handler, error) {
	metadataURL, err := wellknown.MetadataURL(cfg.ResourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid resource url %q: %w", cfg.ResourceURL, err)
	}
	mu, err := url.Parse(metadataURL)
	if err != nil {
		return nil, err
	}

	responder := auth.Responder{
		Realm:                cfg.Realm,
		ResourceMetadata:     metadataURL,
		ExposeInternalErrors: cfg.ExposeInternalErrors,
		Logger:               logger,
	}

	methods := []string{wellknown.BearerMethodHeader, wellknown.BearerMethodBody}
	extractOpts := []auth.ExtractOption{auth.WithMaxFormBytes(cfg.MaxFormBytes)}
	if cfg.AllowQueryToken {
		methods = append(methods, wellknown.BearerMethodQuery)
		extractOpts = append(extractOpts, auth.WithQueryParameter())
	}
	opts := []auth.MiddlewareOption{
		auth.WithLogger(logger),
		auth.WithResponder(responder),
		auth.WithExtractOptions(extractOpts...),
		auth.WithStoreName(st.name),
	}

	notes := &noteBook{responder: responder, byUser: map[string][]note{}, now: time.Now}

	mux := http.NewServeMux()
	mux.Handle("GET /whoami", auth.Require(st.lookup, opts...)(http.HandlerFunc(whoami)))
	mux.Handle("GET /notes", auth.Require(st.lookup, opts...)(http.HandlerFunc(notes.list)))
	mux.Handle("POST /notes", auth.RequireForm[noteForm](st.lookup, noteDecoder, opts...)(http.HandlerFunc(notes.create)))
	mux.Handle("GET "+mu.Path, wellknown.Handler(wellknown.ProtectedResourceMetadata{
		Resource:               cfg.ResourceURL,
		AuthorizationServers:   st.authServers,
		ScopesSupported:        st.scopes,
		BearerMethodsSupported: methods,
		ResourceName:           "bearerdemo",
	}))
	mux.Handle("GET /metrics", promhttp.Handler())

	return alice.New(logctx.Middleware).Then(mux), nil
}

type whoamiResponse struct {
	UserID     string              `json:"user_id"`
	ClientID   string              `json:"client_id"`
	SessionID  string              `json:"session_id"`
	Scope      oauth2types.Scope   `json:"scope"`
	SessionAge oauth2types.Seconds `json:"session_age"`
}

func whoami(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	resp := whoamiResponse{
		UserID:    sess.UserID,
		ClientID:  sess.ClientID,
		SessionID: sess.ID,
		Scope:     sess.Scope,
	}
	if !sess.CreatedAt.IsZero() {
		resp.SessionAge = oauth2types.Seconds(time.Since(sess.CreatedAt))
	}
	writeJSON(w, http.StatusOK, resp)
}

// noteForm is the body of POST /notes.
type noteForm struct {
	Text string
	Tags []string
}

var noteDecoder = auth.FormDecoderFunc[noteForm](func(values url.Values) (noteForm, error) {
	text, err := auth.FormValue(values, "text")
	if err != nil {
		return noteForm{}, err
	}
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return noteForm{}, &auth.FieldError{Field: "text", Reason: "empty"}
	case len(text) > maxNoteLength:
		return noteForm{}, &auth.FieldError{Field: "text", Reason: "too long"}
	}
	return noteForm{Text: text, Tags: values["tag"]}, nil
})

type note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// noteBook keeps notes per user for the life of the process.
type noteBook struct {
	responder auth.Responder
	now       func() time.Time

	mu     sync.Mutex
	byUser map[string][]note
}

func (nb *noteBook) list(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	if !sess.Scope.Contains(scopeNotesRead) {
		nb.responder.WriteInsufficientScope(w, r, scopeNotesRead)
		return
	}
	nb.mu.Lock()
	out := append([]note{}, nb.byUser[sess.UserID]...)
	nb.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (nb *noteBook) create(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	if !sess.Scope.Contains(scopeNotesWrite) {
		nb.responder.WriteInsufficientScope(w, r, scopeNotesWrite)
		return
	}
	form, _ := auth.FormFromContext[noteForm](r.Context())
	n := note{ID: uuid.NewString(), Text: form.Text, Tags: form.Tags, CreatedAt: nb.now().UTC()}

	nb.mu.Lock()
	nb.byUser[sess.UserID] = append(nb.byUser[sess.UserID], n)
	nb.mu.Unlock()

	w.Header().Set("Location", "/notes/"+n.ID)
	writeJSON(w, http.StatusCreated, n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
