package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"

	// AccessTokenField is the form field and query parameter carrying a token.
	AccessTokenField = "access_token"

	// DefaultMaxFormBytes caps how much of a form body Extract will read.
	DefaultMaxFormBytes int64 = 1 << 20
)


var (
	errFormTooLarge   = errors.New("form body exceeds size limit")
	errRepeatedToken  = errors.New("access_token repeated")
	errMultipleHeader = errors.New("multiple Authorization headers")
)

type extractConfig struct {
	maxFormBytes int64
	allowQuery   bool
}

// ExtractOption tunes Extract.
type ExtractOption func(*extractConfig)

// WithMaxFormBytes sets the form body size limit. Non-positive values keep
// DefaultMaxFormBytes.
func WithMaxFormBytes(n int64) ExtractOption {
	return func(c *extractConfig) {
		if n > 0 {
			c.maxFormBytes = n
		}
	}
}

// WithQueryParameter additionally accepts the access_token URI query
// parameter (RFC 6750 §2.3). It is off by default because query strings end
// up in logs and browser history.
func WithQueryParameter() ExtractOption {
	return func(c *extractConfig) { c.allowQuery = true }
}

// ExtractBearer is Extract for handlers that carry no form payload.
func ExtractBearer(r *http.Request, opts ...ExtractOption) (UserAuthorization[NoForm], error) {
	return Extract(r, NoFormDecoder, opts...)
}

// Extract locates the access token in r and decodes the form payload, if any.
//
// The token may come from the Authorization header or from the access_token
// field of a form-encoded body (and from the query string when enabled); a
// token in more than one place is ErrConflictingSources. A body whose media
// type is not application/x-www-form-urlencoded is treated as "no form". A
// form that is present but undecodable is ErrMalformedForm. Extract never
// contacts a token store. The body it reads is restored on r.Body.
func Extract[F any](r *http.Request, dec FormDecoder[F], opts ...ExtractOption) (UserAuthorization[F], error) {
	cfg := extractConfig{maxFormBytes: DefaultMaxFormBytes}
	for _, opt := range opts {
		opt(&cfg)
	}

	var zero UserAuthorization[F]

	headerTok, hasHeader, err := tokenFromHeader(r.Header)
	if err != nil {
		return zero, err
	}

	formTok, hasFormTok, form, err := decodeForm(r, dec, cfg.maxFormBytes)
	if err != nil {
		return zero, err
	}

	var found []CredentialSource
	if hasHeader {
		found = append(found, FromHeader(headerTok))
	}
	if hasFormTok {
		found = append(found, FromForm(formTok))
	}
	if cfg.allowQuery {
		tok, ok, err := tokenFromQuery(r.URL)
		if err != nil {
			return zero, err
		}
		if ok {
			found = append(found, FromQuery(tok))
		}
	}

	source := Absent()
	switch len(found) {
	case 0:
	case 1:
		source = found[0]
	default:
		return zero, &ExtractionError{Kind: ErrConflictingSources}
	}

	return UserAuthorization[F]{source: source, form: form}, nil
}

func tokenFromHeader(h http.Header) (string, bool, error) {
	values := h.Values(authorizationHeader)
	switch len(values) {
	case 0:
		return "", false, nil
	case 1:
	default:
		return "", false, &ExtractionError{Kind: ErrInvalidHeader, Err: errMultipleHeader}
	}

	scheme, cred, ok := strings.Cut(values[0], " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false, &ExtractionError{Kind: ErrInvalidHeader, Err: errors.New("expected Bearer scheme")}
	}
	cred = strings.TrimLeft(cred, " ")
	if !isB64Token(cred) {
		return "", false, &ExtractionError{Kind: ErrInvalidHeader, Err: errors.New("credential is not a b64token")}
	}
	return cred, true, nil
}

// isB64Token reports 1*( ALPHA / DIGIT / "-" / "." / "_" / "~" / "+" / "/" ) *"=".
func isB64Token(s string) bool {
	i := 0
	for i < len(s) {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' || c == '+' || c == '/' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] != '=' {
			return false
		}
	}
	return true
}

func decodeForm[F any](r *http.Request, dec FormDecoder[F], limit int64) (string, bool, *F, error) {
	if r.Body == nil || r.Header.Get("Content-Type") == "" {
		return "", false, nil, nil
	}
	mt, err := contenttype.GetMediaType(r)
	if err != nil || !isFormMediaType(mt) {
		return "", false, nil, nil
	}

	if r.ContentLength > limit {
		return "", false, nil, &ExtractionError{Kind: ErrMalformedForm, Err: errFormTooLarge}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return "", false, nil, &ExtractionError{Kind: ErrInternal, Err: fmt.Errorf("reading form body: %w", err)}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if int64(len(body)) > limit {
		return "", false, nil, &ExtractionError{Kind: ErrMalformedForm, Err: errFormTooLarge}
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false, nil, &ExtractionError{Kind: ErrMalformedForm, Err: err}
	}

	var (
		token    string
		hasToken bool
	)
	switch toks := values[AccessTokenField]; len(toks) {
	case 0:
	case 1:
		token, hasToken = toks[0], true
	default:
		return "", false, nil, &ExtractionError{Kind: ErrMalformedForm, Err: errRepeatedToken}
	}
	delete(values, AccessTokenField)

	form, err := dec.DecodeForm(values)
	if err != nil {
		return "", false, nil, &ExtractionError{Kind: ErrMalformedForm, Err: err}
	}
	return token, hasToken, &form, nil
}

// isFormMediaType reports an exact form media type. Wildcards such as "*/*"
// name no body encoding and do not match.
func isFormMediaType(mt contenttype.MediaType) bool {
	return strings.EqualFold(mt.Type, "application") && strings.EqualFold(mt.Subtype, "x-www-form-urlencoded")
}

func tokenFromQuery(u *url.URL) (string, bool, error) {
	if u == nil {
		return "", false, nil
	}
	switch toks := u.Query()[AccessTokenField]; len(toks) {
	case 0:
		return "", false, nil
	case 1:
		return toks[0], true, nil
	default:
		return "", false, &ExtractionError{Kind: ErrMalformedForm, Err: errRepeatedToken}
	}
}
