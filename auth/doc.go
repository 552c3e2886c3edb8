// Package auth extracts OAuth 2.0 bearer credentials from HTTP requests,
// verifies them against a token store and renders RFC 6750 error responses.
//
// Handling a protected request happens in two steps. Extract locates the
// access token, which may arrive in the Authorization header or in the
// access_token field of an application/x-www-form-urlencoded body, and
// decodes the rest of the form into a caller-defined payload. Protected (or
// ProtectedForm) then resolves the token with exactly one store lookup and
// returns the session it belongs to.
//
//	ua, err := auth.Extract(r, noteDecoder)
//	if err != nil {
//	    responder.WriteError(w, r, err)
//	    return
//	}
//	sess, note, err := ua.ProtectedForm(r.Context(), store.Conn(db))
//	if err != nil {
//	    responder.WriteError(w, r, err)
//	    return
//	}
//
// Require and RequireForm wrap both steps as net/http middleware.
//
// # Errors
//
// Extraction fails with an *ExtractionError and verification with a
// *VerificationError. Both unwrap to one of the package's sentinel kinds and
// to the underlying cause, so errors.Is(err, auth.ErrInvalidToken) works
// through either. Responder maps every kind to a status code and a
// WWW-Authenticate challenge: client mistakes become 400 invalid_request,
// rejected tokens 400 invalid_token, and ErrInternal a 500 with no challenge.
//
// # Form payloads
//
// Payload types are decoded by a FormDecoder supplied by the caller. Use
// NoForm and ExtractBearer when a handler only needs the token.
package auth
