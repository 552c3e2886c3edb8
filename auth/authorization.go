package auth

import (
	"context"
	"errors"

	"github.com/ggoodman/oauth2-bearer-go/storage"
)

// UserAuthorization is the result of extracting credentials from one request:
// where the access token came from, and the decoded form payload when the
// request carried a form-encoded body.
//
// A UserAuthorization belongs to the request it was extracted from and is
// meant to be consumed by a single call to Protected or ProtectedForm.
type UserAuthorization[F any] struct {
	source CredentialSource
	form   *F
}

// NewUserAuthorization builds a UserAuthorization directly, for callers that
// locate credentials themselves. A nil form means no payload was decoded.
func NewUserAuthorization[F any](source CredentialSource, form *F) UserAuthorization[F] {
	return UserAuthorization[F]{source: source, form: form}
}

func (a UserAuthorization[F]) Source() CredentialSource { return a.source }

// Form returns the decoded payload and whether one was present.
func (a UserAuthorization[F]) Form() (F, bool) {
	if a.form == nil {
		var zero F
		return zero, false
	}
	return *a.form, true
}

// Protected resolves the access token through lookup and returns its session.
// It fails with ErrMissingToken when no token was supplied, ErrInvalidToken
// when the store reports the token unknown or inactive, and ErrInternal for
// any other store failure.
func (a UserAuthorization[F]) Protected(ctx context.Context, lookup storage.TokenLookup) (*storage.Session, error) {
	_, sess, err := Verify(ctx, lookup, a.source)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ProtectedForm is Protected for handlers that need the form payload. It
// fails with ErrMissingForm, without contacting the store, when the request
// carried no form, wherever the token itself came from.
func (a UserAuthorization[F]) ProtectedForm(ctx context.Context, lookup storage.TokenLookup) (*storage.Session, F, error) {
	var zero F
	if a.form == nil {
		return nil, zero, &VerificationError{Kind: ErrMissingForm}
	}
	_, sess, err := Verify(ctx, lookup, a.source)
	if err != nil {
		return nil, zero, err
	}
	return sess, *a.form, nil
}

// Verify performs the single token store lookup behind Protected and
// ProtectedForm and also returns the access token record. It never retries.
func Verify(ctx context.Context, lookup storage.TokenLookup, source CredentialSource) (*storage.AccessToken, *storage.Session, error) {
	token, ok := source.Token()
	if !ok {
		return nil, nil, &VerificationError{Kind: ErrMissingToken}
	}

	tok, sess, err := lookup.LookupActiveAccessToken(ctx, token)
	if err != nil {
		return nil, nil, classifyLookup(err)
	}
	if tok == nil || sess == nil {
		return nil, nil, &VerificationError{Kind: ErrInternal, Err: errors.New("token store returned an empty record")}
	}
	return tok, sess, nil
}

// classifyLookup maps a store error to ErrInvalidToken when it reports
// NotFound, and to ErrInternal otherwise.
func classifyLookup(err error) error {
	var nf interface{ NotFound() bool }
	if errors.As(err, &nf) && nf.NotFound() {
		return &VerificationError{Kind: ErrInvalidToken, Err: err}
	}
	return &VerificationError{Kind: ErrInternal, Err: err}
}
