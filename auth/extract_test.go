package auth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ggoodman/oauth2-bearer-go/auth/authtest"
)

type fooForm struct {
	Foo string
}

var fooDecoder = FormDecoderFunc[fooForm](func(v url.Values) (fooForm, error) {
	foo, err := FormValue(v, "foo")
	if err != nil {
		return fooForm{}, err
	}
	return fooForm{Foo: foo}, nil
})

var genToken = gen.AlphaString().SuchThat(func(s string) bool { return s != "" })

func formRequest(values url.Values) *http.Request {
	return authtest.NewFormRequest("/notes", values)
}

func TestExtract_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("header and form token conflict", prop.ForAll(
		func(headerTok, formTok string) bool {
			r := formRequest(url.Values{"access_token": {formTok}, "foo": {"bar"}})
			r.Header.Set("Authorization", "Bearer "+headerTok)
			_, err := Extract(r, fooDecoder)
			return errors.Is(err, ErrConflictingSources)
		},
		genToken, genToken,
	))

	properties.Property("header-only token selects header", prop.ForAll(
		func(tok string) bool {
			ua, err := ExtractBearer(authtest.NewBearerRequest("/", tok))
			if err != nil {
				return false
			}
			got, ok := ua.Source().Token()
			return ok && got == tok && ua.Source().Kind() == SourceHeader
		},
		genToken,
	))

	properties.Property("form-only token selects form", prop.ForAll(
		func(tok string) bool {
			ua, err := ExtractBearer(formRequest(url.Values{"access_token": {tok}}))
			if err != nil {
				return false
			}
			got, ok := ua.Source().Token()
			return ok && got == tok && ua.Source().Kind() == SourceForm
		},
		genToken,
	))

	properties.Property("payload decodes wherever the token came from", prop.ForAll(
		func(tok, foo string, inHeader bool) bool {
			values := url.Values{"foo": {foo}}
			if !inHeader {
				values.Set("access_token", tok)
			}
			r := formRequest(values)
			if inHeader {
				r.Header.Set("Authorization", "Bearer "+tok)
			}
			ua, err := Extract(r, fooDecoder)
			if err != nil {
				return false
			}
			f, ok := ua.Form()
			return ok && f.Foo == foo
		},
		genToken, gen.AlphaString(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestExtract_NoToken(t *testing.T) {
	ua, err := ExtractBearer(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua.Source().Kind() != SourceAbsent {
		t.Errorf("expected absent source, got %v", ua.Source())
	}
	if _, ok := ua.Form(); ok {
		t.Errorf("expected no form for a bodiless GET")
	}
}

func TestExtract_FormPayload(t *testing.T) {
	ua, err := Extract(formRequest(url.Values{"access_token": {"abc123"}, "foo": {"bar"}}), fooDecoder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua.Source() != FromForm("abc123") {
		t.Errorf("expected FromForm(abc123), got %v", ua.Source())
	}
	f, ok := ua.Form()
	if !ok || f.Foo != "bar" {
		t.Errorf("expected form {foo: bar}, got %+v (present=%v)", f, ok)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
		opts []ExtractOption
		want error
	}{
		{
			name: "form missing token and required field",
			req:  func() *http.Request { return formRequest(url.Values{"other": {"x"}}) },
			want: ErrMalformedForm,
		},
		{
			name: "repeated access_token field",
			req: func() *http.Request {
				return formRequest(url.Values{"access_token": {"a", "b"}, "foo": {"bar"}})
			},
			want: ErrMalformedForm,
		},
		{
			name: "invalid form encoding",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("foo=%zz"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			want: ErrMalformedForm,
		},
		{
			name: "body over limit",
			req: func() *http.Request {
				return formRequest(url.Values{"foo": {strings.Repeat("x", 64)}})
			},
			opts: []ExtractOption{WithMaxFormBytes(16)},
			want: ErrMalformedForm,
		},
		{
			name: "non-bearer scheme",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
				return r
			},
			want: ErrInvalidHeader,
		},
		{
			name: "empty bearer credential",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("Authorization", "Bearer ")
				return r
			},
			want: ErrInvalidHeader,
		},
		{
			name: "credential outside b64token",
			req:  func() *http.Request { return authtest.NewBearerRequest("/", "abc def") },
			want: ErrInvalidHeader,
		},
		{
			name: "two authorization headers",
			req: func() *http.Request {
				r := authtest.NewBearerRequest("/", "a")
				r.Header.Add("Authorization", "Bearer b")
				return r
			},
			want: ErrInvalidHeader,
		},
		{
			name: "query token conflicts with header when enabled",
			req:  func() *http.Request { return authtest.NewBearerRequest("/?access_token=q", "h") },
			opts: []ExtractOption{WithQueryParameter()},
			want: ErrConflictingSources,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.req(), fooDecoder, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Extract() error = %v, want %v", err, tt.want)
			}
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Errorf("expected *ExtractionError, got %T", err)
			}
		})
	}
}

func TestExtract_Header(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "canonical", value: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", value: "bearer abc123", want: "abc123"},
		{name: "padding", value: "Bearer mF_9.B5f-4.1JqM==", want: "mF_9.B5f-4.1JqM=="},
		{name: "extra spaces", value: "Bearer   tok", want: "tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tt.value)
			ua, err := ExtractBearer(r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ua.Source() != FromHeader(tt.want) {
				t.Errorf("source = %v, want header token %q", ua.Source(), tt.want)
			}
		})
	}
}

func TestExtract_NonFormBodyIgnored(t *testing.T) {
	for _, ctype := range []string{"application/json", "application/*", "*/*", "text/plain"} {
		t.Run(ctype, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"hi"}`))
			r.Header.Set("Content-Type", ctype)
			r.Header.Set("Authorization", "Bearer abc123")
			ua, err := Extract(r, fooDecoder)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ua.Source() != FromHeader("abc123") {
				t.Errorf("source = %v, want header token", ua.Source())
			}
			if _, ok := ua.Form(); ok {
				t.Errorf("expected no form for %s body", ctype)
			}
		})
	}

	t.Run("form media type is case-insensitive", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("foo=bar"))
		r.Header.Set("Content-Type", "Application/X-WWW-Form-Urlencoded; charset=utf-8")
		r.Header.Set("Authorization", "Bearer abc123")
		ua, err := Extract(r, fooDecoder)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := ua.Form(); !ok {
			t.Error("form not decoded")
		}
	})
}

func TestExtract_QueryIgnoredByDefault(t *testing.T) {
	ua, err := ExtractBearer(httptest.NewRequest(http.MethodGet, "/?access_token=abc", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua.Source().Kind() != SourceAbsent {
		t.Errorf("query token used without WithQueryParameter: %v", ua.Source())
	}

	ua, err = ExtractBearer(httptest.NewRequest(http.MethodGet, "/?access_token=abc", nil), WithQueryParameter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua.Source() != FromQuery("abc") {
		t.Errorf("source = %v, want query token", ua.Source())
	}
}

func TestExtract_BodyRestored(t *testing.T) {
	values := url.Values{"access_token": {"abc123"}, "foo": {"bar"}}
	r := formRequest(values)
	if _, err := Extract(r, fooDecoder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("reading restored body: %v", err)
	}
	if string(body) != values.Encode() {
		t.Errorf("restored body = %q, want %q", body, values.Encode())
	}
}

func TestCredentialSourceRedacts(t *testing.T) {
	s := FromHeader("super-secret")
	for _, got := range []string{s.String(), s.GoString()} {
		if strings.Contains(got, "super-secret") {
			t.Errorf("token leaked in %q", got)
		}
	}
}
