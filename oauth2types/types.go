// Package oauth2types holds small serialization adapters shared by the token
// stores and HTTP handlers: a space-delimited scope set and a duration that
// encodes as whole seconds.
package oauth2types

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Scope is a set of OAuth 2.0 scope tokens. On the wire it is a single
// space-delimited string (RFC 6749 §3.3). Encoding is sorted so two equal sets
// always produce the same string.
type Scope map[string]struct{}

// ParseScope splits a space-delimited scope string. Runs of whitespace are
// collapsed; an empty string yields an empty set.
func ParseScope(s string) Scope {
	out := Scope{}
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

// NewScope builds a set from individual tokens.
func NewScope(tokens ...string) Scope {
	out := make(Scope, len(tokens))
	for _, tok := range tokens {
		if tok != "" {
			out[tok] = struct{}{}
		}
	}
	return out
}

// Contains reports whether every token in want is present.
func (s Scope) Contains(want ...string) bool {
	for _, w := range want {
		if _, ok := s[w]; !ok {
			return false
		}
	}
	return true
}

// Tokens returns the sorted scope tokens.
func (s Scope) Tokens() []string {
	out := make([]string, 0, len(s))
	for tok := range s {
		out = append(out, tok)
	}
	slices.Sort(out)
	return out
}

func (s Scope) String() string { return strings.Join(s.Tokens(), " ") }

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scope) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("scope: expected space-delimited string: %w", err)
	}
	*s = ParseScope(raw)
	return nil
}

// Seconds is a time.Duration that encodes as an integer number of seconds,
// the representation used by expires_in and similar OAuth fields.
type Seconds time.Duration

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = uint64(math.MaxInt64 / int64(time.Second))

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

func (s *Seconds) UnmarshalJSON(b []byte) error {
	var secs uint64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("seconds: expected non-negative integer: %w", err)
	}
	if secs > maxSeconds {
		return fmt.Errorf("seconds: %d exceeds the maximum of %d", secs, maxSeconds)
	}
	*s = Seconds(time.Duration(secs) * time.Second)
	return nil
}
