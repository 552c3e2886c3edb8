package auth

import (
	"errors"
)

// Extraction failures.
var (
	// ErrInvalidHeader indicates an Authorization header that is present but
	// not a well-formed Bearer credential.
	ErrInvalidHeader = errors.New("auth: invalid authorization header")
	// ErrConflictingSources indicates the access token was supplied in more
	// than one location (RFC 6750 §2: clients MUST NOT use more than one method).
	ErrConflictingSources = errors.New("auth: access token supplied in more than one location")
	// ErrMalformedForm indicates a form-encoded body that could not be decoded.
	ErrMalformedForm = errors.New("auth: malformed form body")
)

// Verification failures.
var (
	// ErrMissingToken indicates no access token was supplied.
	ErrMissingToken = errors.New("auth: missing access token")
	// ErrInvalidToken indicates the token store does not know the token or
	// reports it inactive.
	ErrInvalidToken = errors.New("auth: invalid access token")
	// ErrMissingForm indicates the handler required a form payload but the
	// request carried none.
	ErrMissingForm = errors.New("auth: missing form body")
)

// ErrInternal indicates a failure the client cannot correct: a broken request
// body stream, a token store outage, or a challenge that failed to encode.
var ErrInternal = errors.New("auth: internal error")

// ExtractionError is returned by Extract. Kind is one of ErrInvalidHeader,
// ErrConflictingSources, ErrMalformedForm or ErrInternal; Err, when set, is
// the underlying cause.
type ExtractionError struct {
	Kind error
	Err  error
}

func (e *ExtractionError) Error() string { return describe(e.Kind, e.Err) }

func (e *ExtractionError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

// VerificationError is returned by the verification entry points. Kind is one
// of ErrMissingToken, ErrInvalidToken, ErrMissingForm or ErrInternal.
type VerificationError struct {
	Kind error
	Err  error
}

func (e *VerificationError) Error() string { return describe(e.Kind, e.Err) }

func (e *VerificationError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

func describe(kind, cause error) string {
	if kind == nil {
		kind = ErrInternal
	}
	if cause == nil {
		return kind.Error()
	}
	return kind.Error() + ": " + cause.Error()
}

func unwrap(kind, cause error) []error {
	if cause == nil {
		return []error{kind}
	}
	return []error{kind, cause}
}

// kindOf returns the Kind of the first ExtractionError or VerificationError in
// err's chain, or ErrInternal for anything else.
func kindOf(err error) error {
	var ee *ExtractionError
	if errors.As(err, &ee) && ee.Kind != nil {
		return ee.Kind
	}
	var ve *VerificationError
	if errors.As(err, &ve) && ve.Kind != nil {
		return ve.Kind
	}
	return ErrInternal
}

// causeOf returns the underlying cause carried by an auth error, or err itself.
func causeOf(err error) error {
	var ee *ExtractionError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err
	}
	var ve *VerificationError
	if errors.As(err, &ve) && ve.Err != nil {
		return ve.Err
	}
	return err
}

// label is the metrics/log label for an error outcome.
func label(err error) string {
	if err == nil {
		return "ok"
	}
	switch kindOf(err) {
	case ErrInvalidHeader:
		return "invalid_header"
	case ErrConflictingSources:
		return "conflicting_sources"
	case ErrMalformedForm:
		return "malformed_form"
	case ErrMissingToken:
		return "missing_token"
	case ErrInvalidToken:
		return "invalid_token"
	case ErrMissingForm:
		return "missing_form"
	default:
		return "internal"
	}
}
