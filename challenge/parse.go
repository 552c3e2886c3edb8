package challenge

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Parse for values that are not a single
// well-formed challenge.
var ErrMalformed = errors.New("challenge: malformed header value")

// Parse decodes a single Basic or Bearer challenge. Parameter names are
// matched case-insensitively and may carry token or quoted-string values.
// Unknown parameters are ignored; repeated parameters are rejected.
func Parse(value string) (Challenge, error) {
	s := strings.TrimSpace(value)
	scheme, rest, _ := strings.Cut(s, " ")
	if !isToken(scheme) {
		return Challenge{}, fmt.Errorf("%w: missing scheme", ErrMalformed)
	}

	var c Challenge
	switch {
	case strings.EqualFold(scheme, string(SchemeBasic)):
		c.Scheme = SchemeBasic
	case strings.EqualFold(scheme, string(SchemeBearer)):
		c.Scheme = SchemeBearer
	default:
		return Challenge{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, scheme)
	}

	p := &scanner{s: rest}
	seen := map[string]bool{}
	for {
		p.skipSpace()
		if p.done() {
			break
		}
		name := p.token()
		if name == "" {
			return Challenge{}, fmt.Errorf("%w: expected parameter name at offset %d", ErrMalformed, p.pos)
		}
		p.skipSpace()
		if !p.consume('=') {
			return Challenge{}, fmt.Errorf("%w: expected '=' after %q", ErrMalformed, name)
		}
		p.skipSpace()

		var val string
		if p.peek() == '"' {
			v, err := p.quoted()
			if err != nil {
				return Challenge{}, err
			}
			val = v
		} else if val = p.token(); val == "" {
			return Challenge{}, fmt.Errorf("%w: missing value for %q", ErrMalformed, name)
		}

		key := strings.ToLower(name)
		if seen[key] {
			return Challenge{}, fmt.Errorf("%w: duplicate parameter %q", ErrMalformed, name)
		}
		seen[key] = true

		switch key {
		case ParamError:
			c.Error = ErrorCode(val)
		case ParamErrorDescription:
			c.ErrorDescription = val
		case ParamScope:
			c.Scope = val
		case ParamRealm:
			c.Realm = val
		case ParamResourceMetadata:
			c.ResourceMetadata = val
		}

		p.skipSpace()
		if p.done() {
			break
		}
		if !p.consume(',') {
			return Challenge{}, fmt.Errorf("%w: expected ',' at offset %d", ErrMalformed, p.pos)
		}
	}
	return c, nil
}

type scanner struct {
	s   string
	pos int
}

func (p *scanner) done() bool { return p.pos >= len(p.s) }

func (p *scanner) peek() byte {
	if p.done() {
		return 0
	}
	return p.s[p.pos]
}

func (p *scanner) consume(c byte) bool {
	if p.peek() == c && !p.done() {
		p.pos++
		return true
	}
	return false
}

func (p *scanner) skipSpace() {
	for !p.done() && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *scanner) token() string {
	start := p.pos
	for !p.done() && isTChar(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *scanner) quoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.done() {
		c := p.s[p.pos]
		switch {
		case c == '"':
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if p.done() {
				return "", fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			b.WriteByte(p.s[p.pos])
		default:
			b.WriteByte(c)
		}
		p.pos++
	}
	return "", fmt.Errorf("%w: unterminated quoted-string", ErrMalformed)
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTChar(s[i]) {
			return false
		}
	}
	return true
}

func isTChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
