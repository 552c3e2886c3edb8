package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oauth2-bearer-go/challenge"
	"github.com/ggoodman/oauth2-bearer-go/metrics"
)

const wwwAuthenticateHeader = "WWW-Authenticate"

// Response is the HTTP rendering of an extraction or verification failure.
type Response struct {
	Status int
	Header http.Header
	Body   string
}

// Responder maps ExtractionError and VerificationError values to HTTP
// responses. Malformed requests and missing credentials are answered with
// 400 and an invalid_request challenge, rejected tokens with 400 and an
// invalid_token challenge, and internal failures with 500 and no challenge.
//
// The zero value is ready to use.
type Responder struct {
	// Realm, when set, is added to every challenge.
	Realm string
	// ResourceMetadata, when set, is advertised as the RFC 9728
	// resource_metadata challenge parameter.
	ResourceMetadata string
	// ExposeInternalErrors echoes the cause of a 500 in the response body.
	// Causes can carry backend detail, so this is meant for development.
	ExposeInternalErrors bool
	// Logger receives internal failures. Nil discards them.
	Logger *slog.Logger
}

// Response renders err. Errors that are neither ExtractionError nor
// VerificationError are treated as internal.
func (rs Responder) Response(err error) Response {
	switch kindOf(err) {
	case ErrInvalidHeader, ErrConflictingSources, ErrMalformedForm, ErrMissingToken, ErrMissingForm:
		return rs.challenge(http.StatusBadRequest, challenge.CodeInvalidRequest, "", err)
	case ErrInvalidToken:
		return rs.challenge(http.StatusBadRequest, challenge.CodeInvalidToken, "", err)
	default:
		return rs.internal(err)
	}
}

// InsufficientScopeResponse renders a 403 insufficient_scope challenge for
// callers that enforce scopes on the session returned by Protected.
func (rs Responder) InsufficientScopeResponse(scope string) Response {
	return rs.challenge(http.StatusForbidden, challenge.CodeInsufficientScope, scope, nil)
}

func (rs Responder) challenge(status int, code challenge.ErrorCode, scope string, cause error) Response {
	c := challenge.Bearer(code,
		challenge.WithScope(scope),
		challenge.WithRealm(rs.Realm),
		challenge.WithResourceMetadata(rs.ResourceMetadata),
	)
	v, err := c.Encode()
	if err != nil {
		metrics.ChallengeEncodeFailuresTotal.Inc()
		if cause != nil {
			err = fmt.Errorf("%w (while reporting: %w)", err, cause)
		}
		return rs.internal(&VerificationError{Kind: ErrInternal, Err: err})
	}
	h := http.Header{}
	h.Set(wwwAuthenticateHeader, v)
	return Response{Status: status, Header: h}
}

func (rs Responder) internal(err error) Response {
	body := http.StatusText(http.StatusInternalServerError)
	if rs.ExposeInternalErrors && err != nil {
		body = causeOf(err).Error()
	}
	return Response{
		Status: http.StatusInternalServerError,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   body,
	}
}

// WriteError renders err onto w. Internal failures are logged with the full
// cause regardless of what the body exposes. A nil err writes nothing.
func (rs Responder) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	resp := rs.Response(err)
	if resp.Status >= http.StatusInternalServerError {
		rs.logger().ErrorContext(r.Context(), "auth.internal.fail", slog.String("err", err.Error()))
	}
	resp.Write(w)
}

// WriteInsufficientScope writes a 403 insufficient_scope response.
func (rs Responder) WriteInsufficientScope(w http.ResponseWriter, r *http.Request, scope string) {
	resp := rs.InsufficientScopeResponse(scope)
	if resp.Status >= http.StatusInternalServerError {
		rs.logger().ErrorContext(r.Context(), "auth.challenge.encode.fail", slog.String("scope", scope))
	}
	resp.Write(w)
}

// Write copies the response onto w.
func (resp Response) Write(w http.ResponseWriter) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	if resp.Body != "" {
		_, _ = io.WriteString(w, resp.Body)
	}
}

func (rs Responder) logger() *slog.Logger {
	if rs.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return rs.Logger
}
