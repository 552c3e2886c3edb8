// Package challenge builds and parses WWW-Authenticate header values for the
// Basic and Bearer authentication schemes (RFC 7235, RFC 6750 §3).
//
// Encoding is strict. Bearer error codes, descriptions and scopes must already
// fall within the character sets RFC 6750 allows inside their quoted strings;
// realm and resource_metadata are escaped as RFC 7230 quoted-strings. A value
// that cannot be represented produces an *EncodeError rather than a malformed
// header. Parameters are always emitted in the same order:
//
//	error, error_description, scope, realm, resource_metadata
//
// so header values are stable across runs and safe to compare in tests.
package challenge

import (
	"fmt"
	"strings"
)

// Scheme is an HTTP authentication scheme name.
type Scheme string

const (
	SchemeBasic  Scheme = "Basic"
	SchemeBearer Scheme = "Bearer"
)

// ErrorCode is an RFC 6750 §3.1 error code.
type ErrorCode string

const (
	// CodeInvalidRequest: the request is missing a parameter, repeats one,
	// or is otherwise malformed.
	CodeInvalidRequest ErrorCode = "invalid_request"
	// CodeInvalidToken: the access token is expired, revoked, malformed or
	// otherwise invalid.
	CodeInvalidToken ErrorCode = "invalid_token"
	// CodeInsufficientScope: the token lacks the privileges the request needs.
	CodeInsufficientScope ErrorCode = "insufficient_scope"
)

// Parameter names.
const (
	ParamError            = "error"
	ParamErrorDescription = "error_description"
	ParamScope            = "scope"
	ParamRealm            = "realm"
	ParamResourceMetadata = "resource_metadata"
)

// Challenge is a single authentication challenge.
type Challenge struct {
	Scheme           Scheme
	Error            ErrorCode
	ErrorDescription string
	Scope            string
	Realm            string
	// ResourceMetadata is the RFC 9728 protected resource metadata URL.
	ResourceMetadata string
}

// Option configures optional Bearer challenge parameters.
type Option func(*Challenge)

// WithRealm sets the realm parameter. Empty values are omitted.
func WithRealm(realm string) Option {
	return func(c *Challenge) { c.Realm = realm }
}

// WithDescription sets the error_description parameter.
func WithDescription(desc string) Option {
	return func(c *Challenge) { c.ErrorDescription = desc }
}

// WithScope sets the scope parameter (space-delimited scope tokens).
func WithScope(scope string) Option {
	return func(c *Challenge) { c.Scope = scope }
}

// WithResourceMetadata sets the RFC 9728 resource_metadata parameter.
func WithResourceMetadata(url string) Option {
	return func(c *Challenge) { c.ResourceMetadata = url }
}

// Basic returns a Basic challenge. Basic carries only a realm.
func Basic(realm string) Challenge {
	return Challenge{Scheme: SchemeBasic, Realm: realm}
}

// Bearer returns a Bearer challenge reporting code. Pass an empty code for a
// bare challenge that only advertises realm or resource metadata.
func Bearer(code ErrorCode, opts ...Option) Challenge {
	c := Challenge{Scheme: SchemeBearer, Error: code}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// InvalidRequest is shorthand for Bearer(CodeInvalidRequest, opts...).
func InvalidRequest(opts ...Option) Challenge { return Bearer(CodeInvalidRequest, opts...) }

// InvalidToken is shorthand for Bearer(CodeInvalidToken, opts...).
func InvalidToken(opts ...Option) Challenge { return Bearer(CodeInvalidToken, opts...) }

// InsufficientScope reports insufficient_scope, advertising scope when non-empty.
func InsufficientScope(scope string, opts ...Option) Challenge {
	return Bearer(CodeInsufficientScope, append([]Option{WithScope(scope)}, opts...)...)
}

// EncodeError reports a parameter that cannot be carried in a header value.
type EncodeError struct {
	Param  string
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("challenge: cannot encode %s: %s", e.Param, e.Reason)
}

type param struct {
	name  string
	value string
	check func(string) error
}

// params returns the populated parameters in encoding order.
func (c Challenge) params() ([]param, error) {
	switch c.Scheme {
	case SchemeBasic:
		if c.Realm == "" {
			return nil, &EncodeError{Param: ParamRealm, Reason: "required for Basic"}
		}
		if c.Error != "" || c.ErrorDescription != "" || c.Scope != "" || c.ResourceMetadata != "" {
			return nil, &EncodeError{Param: "scheme", Reason: "Basic only carries a realm"}
		}
		return []param{{ParamRealm, c.Realm, checkQuotable}}, nil
	case SchemeBearer:
		if c.Error == "" && (c.ErrorDescription != "" || c.Scope != "") {
			return nil, &EncodeError{Param: ParamError, Reason: "required when reporting error details"}
		}
		var out []param
		if c.Error != "" {
			out = append(out, param{ParamError, string(c.Error), checkErrorCode})
		}
		if c.ErrorDescription != "" {
			out = append(out, param{ParamErrorDescription, c.ErrorDescription, checkNQSChars})
		}
		if c.Scope != "" {
			out = append(out, param{ParamScope, c.Scope, checkScope})
		}
		if c.Realm != "" {
			out = append(out, param{ParamRealm, c.Realm, checkQuotable})
		}
		if c.ResourceMetadata != "" {
			out = append(out, param{ParamResourceMetadata, c.ResourceMetadata, checkQuotable})
		}
		return out, nil
	default:
		return nil, &EncodeError{Param: "scheme", Reason: fmt.Sprintf("unsupported scheme %q", c.Scheme)}
	}
}

// Encode renders the challenge as a WWW-Authenticate header value.
func (c Challenge) Encode() (string, error) {
	ps, err := c.params()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(string(c.Scheme))
	for i, p := range ps {
		if err := p.check(p.value); err != nil {
			return "", &EncodeError{Param: p.name, Reason: err.Error()}
		}
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(p.name)
		b.WriteByte('=')
		writeQuoted(&b, p.value)
	}
	return b.String(), nil
}

// MustEncode is like Encode but panics on error. Use it only for challenges
// built from constants.
func (c Challenge) MustEncode() string {
	s, err := c.Encode()
	if err != nil {
		panic(err)
	}
	return s
}

func (c Challenge) String() string {
	s, err := c.Encode()
	if err != nil {
		return fmt.Sprintf("%s <%v>", c.Scheme, err)
	}
	return s
}
