package auth

// SourceKind identifies where an access token was found.
type SourceKind int

const (
	SourceAbsent SourceKind = iota
	SourceHeader
	SourceForm
	// SourceQuery is the RFC 6750 §2.3 URI query parameter. It is only
	// consulted when extraction is configured with WithQueryParameter.
	SourceQuery
)

func (k SourceKind) String() string {
	switch k {
	case SourceHeader:
		return "header"
	case SourceForm:
		return "form"
	case SourceQuery:
		return "query"
	default:
		return "absent"
	}
}

// CredentialSource is the single location an access token was read from, or
// Absent. A CredentialSource never represents a token found in two places;
// Extract fails with ErrConflictingSources instead.
type CredentialSource struct {
	kind  SourceKind
	token string
}

// FromHeader is a token taken from "Authorization: Bearer <token>".
func FromHeader(token string) CredentialSource {
	return CredentialSource{kind: SourceHeader, token: token}
}

// FromForm is a token taken from the access_token form field.
func FromForm(token string) CredentialSource {
	return CredentialSource{kind: SourceForm, token: token}
}

// FromQuery is a token taken from the access_token URI query parameter.
func FromQuery(token string) CredentialSource {
	return CredentialSource{kind: SourceQuery, token: token}
}

// Absent records that no token was supplied.
func Absent() CredentialSource { return CredentialSource{} }

func (s CredentialSource) Kind() SourceKind { return s.kind }

// Token returns the raw token and whether one was supplied.
func (s CredentialSource) Token() (string, bool) {
	return s.token, s.kind != SourceAbsent
}

// String never includes the token.
func (s CredentialSource) String() string {
	if s.kind == SourceAbsent {
		return "absent"
	}
	return s.kind.String() + "(<redacted>)"
}

func (s CredentialSource) GoString() string { return "auth.CredentialSource{" + s.String() + "}" }
