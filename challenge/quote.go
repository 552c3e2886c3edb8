package challenge

import (
	"errors"
	"fmt"
	"strings"
)

var errEmpty = errors.New("empty value")

// isNQSChar reports %x20-21 / %x23-5B / %x5D-7E.
func isNQSChar(c byte) bool {
	return c == 0x20 || c == 0x21 || (c >= 0x23 && c <= 0x5B) || (c >= 0x5D && c <= 0x7E)
}

// isNQChar reports %x21 / %x23-5B / %x5D-7E.
func isNQChar(c byte) bool {
	return c != 0x20 && isNQSChar(c)
}

func checkErrorCode(s string) error {
	if s == "" {
		return errEmpty
	}
	return checkNQSChars(s)
}

func checkNQSChars(s string) error {
	for i := 0; i < len(s); i++ {
		if !isNQSChar(s[i]) {
			return fmt.Errorf("byte 0x%02x at offset %d is outside the RFC 6750 character set", s[i], i)
		}
	}
	return nil
}

// checkScope enforces scope = scope-token *( SP scope-token ).
func checkScope(s string) error {
	for i, tok := range strings.Split(s, " ") {
		if tok == "" {
			return fmt.Errorf("empty scope token at position %d", i)
		}
		for j := 0; j < len(tok); j++ {
			if !isNQChar(tok[j]) {
				return fmt.Errorf("byte 0x%02x in scope token %q is not allowed", tok[j], tok)
			}
		}
	}
	return nil
}

// checkQuotable accepts anything an RFC 7230 quoted-string can carry after
// escaping: HTAB, SP, VCHAR and obs-text.
func checkQuotable(s string) error {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 0x20 && c != '\t') || c == 0x7F {
			return fmt.Errorf("control byte 0x%02x at offset %d", c, i)
		}
	}
	return nil
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
}
