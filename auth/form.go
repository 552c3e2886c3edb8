package auth

import (
	"fmt"
	"net/url"
)

// FormDecoder decodes a caller-defined payload from a form-encoded body.
// The access_token field has already been removed from values.
type FormDecoder[F any] interface {
	DecodeForm(values url.Values) (F, error)
}

// FormDecoderFunc adapts a function to FormDecoder.
type FormDecoderFunc[F any] func(values url.Values) (F, error)

func (f FormDecoderFunc[F]) DecodeForm(values url.Values) (F, error) { return f(values) }

// NoForm is the payload type for handlers that only want a bearer token.
type NoForm struct{}

// NoFormDecoder accepts any field set and yields NoForm.
var NoFormDecoder FormDecoder[NoForm] = FormDecoderFunc[NoForm](func(url.Values) (NoForm, error) {
	return NoForm{}, nil
})

// FieldError describes a form field that failed validation in a FormDecoder.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("form field %q: %s", e.Field, e.Reason)
}

// FormValue returns the single value of a required field.
func FormValue(values url.Values, field string) (string, error) {
	v, ok, err := OptionalFormValue(values, field)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &FieldError{Field: field, Reason: "missing"}
	}
	return v, nil
}

// OptionalFormValue returns the value of a field that may be omitted but
// must not be repeated.
func OptionalFormValue(values url.Values, field string) (string, bool, error) {
	vs, ok := values[field]
	if !ok || len(vs) == 0 {
		return "", false, nil
	}
	if len(vs) > 1 {
		return "", false, &FieldError{Field: field, Reason: "repeated"}
	}
	return vs[0], true, nil
}
